// Package control coordinates the state store and the runtime engine for
// stream lifecycle operations. Every operation commits control-plane state
// first, then drives the engine; engine failures roll the state back so the
// two layers never diverge.
package control

import (
	"log"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/engine"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/graph"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/state"
)

// Coordinator applies lifecycle operations across the store and engine.
type Coordinator struct {
	store  *state.Store
	engine *engine.Engine
	logger *log.Logger
}

// Option customises the coordinator.
type Option func(*Coordinator)

// WithLogger overrides the coordinator logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a coordinator over the store and engine.
func New(store *state.Store, eng *engine.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		engine: eng,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartResult is the outcome of a successful stream start.
type StartResult struct {
	Stream        schema.StreamRecord `json:"stream"`
	Interrupted   []string            `json:"interrupted,omitempty"`
	EngineRunning bool                `json:"engine_running"`
}

// Start transitions a stream to running and binds it in the engine. If the
// engine cannot bind, the stream (and any barge-in victims) are forced back
// to their previous states.
func (c *Coordinator) Start(streamID string) (StartResult, error) {
	prev, err := c.store.GetStream(streamID)
	if err != nil {
		return StartResult{}, err
	}
	route, err := c.store.GetRoute(prev.RouteID)
	if err != nil {
		return StartResult{}, err
	}

	stream, interrupted, err := c.store.SetStreamState(streamID, schema.StreamRunning)
	if err != nil {
		return StartResult{}, err
	}

	c.engine.StartIfNeeded()
	if err := c.engine.StartStream(streamID, route); err != nil {
		c.rollbackStart(streamID, prev.State, interrupted)
		return StartResult{}, err
	}
	for _, victimID := range interrupted {
		if _, pauseErr := c.engine.PauseStream(victimID); pauseErr != nil {
			c.logger.Printf("[AudioControl] barge-in pause of %s failed: %v", victimID, pauseErr)
		}
	}
	return StartResult{
		Stream:        stream,
		Interrupted:   interrupted,
		EngineRunning: c.engine.IsRunning(),
	}, nil
}

// rollbackStart restores the previous lifecycle state after an engine bind
// failure. Forced transitions bypass arbitration so rollback cannot itself
// be rejected.
func (c *Coordinator) rollbackStart(streamID string, prevState schema.StreamState, interrupted []string) {
	if _, err := c.store.SetStreamStateForce(streamID, prevState); err != nil {
		c.logger.Printf("[AudioControl] rollback of %s to %s failed: %v", streamID, prevState, err)
	}
	for _, victimID := range interrupted {
		if _, err := c.store.SetStreamStateForce(victimID, schema.StreamRunning); err != nil {
			c.logger.Printf("[AudioControl] rollback of barge-in victim %s failed: %v", victimID, err)
		}
	}
	c.engine.StopStream(streamID)
	c.engine.StopIfIdle(c.store.AnyRunning())
}

// Pause transitions a stream to paused and halts its engine bundle.
func (c *Coordinator) Pause(streamID string) (schema.StreamRecord, error) {
	prev, err := c.store.GetStream(streamID)
	if err != nil {
		return schema.StreamRecord{}, err
	}
	stream, _, err := c.store.SetStreamState(streamID, schema.StreamPaused)
	if err != nil {
		return schema.StreamRecord{}, err
	}
	if _, err := c.engine.PauseStream(streamID); err != nil {
		if _, rbErr := c.store.SetStreamStateForce(streamID, prev.State); rbErr != nil {
			c.logger.Printf("[AudioControl] rollback of %s to %s failed: %v", streamID, prev.State, rbErr)
		}
		return schema.StreamRecord{}, err
	}
	c.engine.StopIfIdle(c.store.AnyRunning())
	return stream, nil
}

// Stop transitions a stream to stopped and releases its engine bundle.
func (c *Coordinator) Stop(streamID string) (schema.StreamRecord, error) {
	stream, _, err := c.store.SetStreamState(streamID, schema.StreamStopped)
	if err != nil {
		return schema.StreamRecord{}, err
	}
	c.engine.StopStream(streamID)
	c.engine.StopIfIdle(c.store.AnyRunning())
	return stream, nil
}

// SetEnabled toggles the module. Disabling shuts down every engine bundle;
// the store reset forces all streams to stopped either way.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.store.SetAudioEnabled(enabled)
	if !enabled {
		c.engine.ShutdownAll()
		return
	}
	c.engine.StopIfIdle(c.store.AnyRunning())
}

// UpsertRoute validates, materializes, and stores a route definition.
func (c *Coordinator) UpsertRoute(req schema.RouteUpsertRequest) (schema.RouteRecord, error) {
	record, err := graph.Materialize(req)
	if err != nil {
		return schema.RouteRecord{}, err
	}
	return c.store.UpsertRoute(record), nil
}

// DeleteRoute releases the route's engine bundle and removes the route with
// its derived records.
func (c *Coordinator) DeleteRoute(routeID string) error {
	if _, err := c.store.GetRoute(routeID); err != nil {
		return err
	}
	c.engine.StopStream(routeID)
	if !c.store.DeleteRoute(routeID) {
		return faults.NotFound("route", routeID)
	}
	c.engine.StopIfIdle(c.store.AnyRunning())
	return nil
}
