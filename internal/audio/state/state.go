// Package state holds the authoritative control-plane state for the audio
// routing module: routes, derived streams, per-stream controls, meters, the
// duplex arbitration policy, and the module enable flag. All mutations go
// through the Store, which enforces the arbitration rules and publishes
// lifecycle events.
package state

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/graph"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
	"github.com/Zyle0001/foundry-local-runtime/internal/eventbus"
)

// Store is the single source of truth for control-plane state. All exported
// methods are safe for concurrent use; events are published after the lock is
// released so bus subscribers never observe a half-applied mutation.
type Store struct {
	logger *log.Logger
	bus    *eventbus.Bus

	mu    sync.Mutex
	state schema.ModuleState
}

// Option customises the store.
type Option func(*Store)

// WithLogger overrides the store logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBus attaches an event bus for lifecycle, barge-in, and meter events.
func WithBus(bus *eventbus.Bus) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

// New constructs a store with the module enable flag and the default
// arbitration policy (barge-in enabled).
func New(audioEnabled bool, opts ...Option) *Store {
	store := &Store{
		logger: log.Default(),
		state: schema.ModuleState{
			AudioEnabled: audioEnabled,
			Routes:       make(map[string]schema.RouteRecord),
			Streams:      make(map[string]schema.StreamRecord),
			Controls:     make(map[string]schema.ControlRecord),
			Meters:       make(map[string]schema.MeterSnapshot),
			DuplexPolicy: schema.PolicyBargeInEnabled,
		},
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Snapshot returns a deep copy of the aggregate state.
func (s *Store) Snapshot() schema.ModuleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() schema.ModuleState {
	out := s.state
	out.Routes = make(map[string]schema.RouteRecord, len(s.state.Routes))
	for id, route := range s.state.Routes {
		out.Routes[id] = route.Clone()
	}
	out.Streams = make(map[string]schema.StreamRecord, len(s.state.Streams))
	for id, stream := range s.state.Streams {
		out.Streams[id] = stream
	}
	out.Controls = make(map[string]schema.ControlRecord, len(s.state.Controls))
	for id, control := range s.state.Controls {
		out.Controls[id] = control
	}
	out.Meters = make(map[string]schema.MeterSnapshot, len(s.state.Meters))
	for id, meter := range s.state.Meters {
		out.Meters[id] = meter
	}
	return out
}

// AudioEnabled reports the module enable flag.
func (s *Store) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AudioEnabled
}

// SetAudioEnabled toggles the module flag. Disabling resets all runtime-facing
// state: every stream returns to stopped, push-to-talk clears, and meters zero
// out. Routes, controls, and the policy survive. Enabling only flips the flag,
// so a redundant enable never disturbs running streams.
func (s *Store) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.state.AudioEnabled = enabled
	var events []eventbus.StreamLifecycleEvent
	if !enabled {
		s.state.PushToTalk = false
		now := timestamp()
		for id, stream := range s.state.Streams {
			if stream.State != schema.StreamStopped {
				stream.State = schema.StreamStopped
				stream.LastTransition = now
				s.state.Streams[id] = stream
				events = append(events, eventbus.StreamLifecycleEvent{
					StreamID:  id,
					Direction: stream.Direction,
					State:     schema.StreamStopped,
					Forced:    true,
				})
			}
			s.state.Meters[id] = schema.MeterSnapshot{StreamID: id, UpdatedAt: now}
		}
	}
	s.mu.Unlock()

	if enabled {
		s.logger.Printf("[AudioState] module enabled")
	} else {
		s.logger.Printf("[AudioState] module disabled, streams reset")
	}
	for _, ev := range events {
		eventbus.Publish(context.Background(), s.bus, eventbus.TopicAudioLifecycle, eventbus.SourceAudioState, ev)
	}
}

// Defaults returns the default input and output device ids.
func (s *Store) Defaults() (inputID, outputID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DefaultInputDeviceID, s.state.DefaultOutputDeviceID
}

// SetDefaults updates the default device ids. Each id is only written when
// its update flag is set, so callers can change one side at a time.
func (s *Store) SetDefaults(inputID, outputID string, updateInput, updateOutput bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if updateInput {
		s.state.DefaultInputDeviceID = inputID
	}
	if updateOutput {
		s.state.DefaultOutputDeviceID = outputID
	}
}

// DuplexPolicy returns the active arbitration policy.
func (s *Store) DuplexPolicy() schema.DuplexPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DuplexPolicy
}

// SetDuplexPolicy switches the arbitration mode. Running streams are left
// untouched; the new policy applies to subsequent start requests.
func (s *Store) SetDuplexPolicy(policy schema.DuplexPolicy) error {
	if !policy.Valid() {
		return faults.Validationf("invalid duplex policy %q, allowed: %s",
			policy, joinNames(schema.DuplexPolicyNames()))
	}
	s.mu.Lock()
	s.state.DuplexPolicy = policy
	s.mu.Unlock()
	s.logger.Printf("[AudioState] duplex policy set to %s", policy)
	return nil
}

// ListRoutes returns all routes sorted by route id.
func (s *Store) ListRoutes() []schema.RouteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.RouteRecord, 0, len(s.state.Routes))
	for _, route := range s.state.Routes {
		out = append(out, route.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteID < out[j].RouteID })
	return out
}

// GetRoute returns a route by id.
func (s *Store) GetRoute(routeID string) (schema.RouteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	route, ok := s.state.Routes[routeID]
	if !ok {
		return schema.RouteRecord{}, faults.NotFound("route", routeID)
	}
	return route.Clone(), nil
}

// UpsertRoute stores the route and ensures its derived stream, control, and
// meter records exist. Upserting an existing route recomputes the stream
// direction but preserves its lifecycle state.
func (s *Store) UpsertRoute(route schema.RouteRecord) schema.RouteRecord {
	stored := route.Clone()
	s.mu.Lock()
	s.state.Routes[stored.RouteID] = stored
	s.ensureStreamLocked(stored)
	s.mu.Unlock()
	s.logger.Printf("[AudioState] route %s upserted (%s -> %s)", stored.RouteID, stored.Source.Kind, stored.Sink.Kind)
	return stored.Clone()
}

func (s *Store) ensureStreamLocked(route schema.RouteRecord) {
	direction := graph.InferDirection(route)
	stream, ok := s.state.Streams[route.RouteID]
	if !ok {
		stream = schema.StreamRecord{
			StreamID:       route.RouteID,
			RouteID:        route.RouteID,
			State:          schema.StreamStopped,
			LastTransition: timestamp(),
		}
	}
	stream.Direction = direction
	s.state.Streams[route.RouteID] = stream

	if _, ok := s.state.Controls[route.RouteID]; !ok {
		s.state.Controls[route.RouteID] = schema.ControlRecord{StreamID: route.RouteID}
	}
	if _, ok := s.state.Meters[route.RouteID]; !ok {
		s.state.Meters[route.RouteID] = schema.MeterSnapshot{StreamID: route.RouteID}
	}
}

// DeleteRoute removes a route and cascades to its stream, control, and meter
// records. It reports whether the route existed.
func (s *Store) DeleteRoute(routeID string) bool {
	s.mu.Lock()
	_, ok := s.state.Routes[routeID]
	if ok {
		delete(s.state.Routes, routeID)
		delete(s.state.Streams, routeID)
		delete(s.state.Controls, routeID)
		delete(s.state.Meters, routeID)
	}
	s.mu.Unlock()
	if ok {
		s.logger.Printf("[AudioState] route %s deleted", routeID)
	}
	return ok
}

// ListStreams returns all streams sorted by stream id.
func (s *Store) ListStreams() []schema.StreamRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.StreamRecord, 0, len(s.state.Streams))
	for _, stream := range s.state.Streams {
		out = append(out, stream)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// GetStream returns a stream by id.
func (s *Store) GetStream(streamID string) (schema.StreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.state.Streams[streamID]
	if !ok {
		return schema.StreamRecord{}, faults.NotFound("stream", streamID)
	}
	return stream, nil
}

// AnyRunning reports whether any stream is currently running.
func (s *Store) AnyRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stream := range s.state.Streams {
		if stream.State == schema.StreamRunning {
			return true
		}
	}
	return false
}

// SetStreamState transitions a stream, applying duplex arbitration when the
// target state is running. On success it returns the updated record and, for
// barge-in, the ids of playback streams that were paused to make way.
func (s *Store) SetStreamState(streamID string, target schema.StreamState) (schema.StreamRecord, []string, error) {
	return s.setStreamState(streamID, target, false)
}

// SetStreamStateForce transitions a stream without arbitration. It is the
// rollback primitive: callers restoring a previous state must never be
// blocked by policy.
func (s *Store) SetStreamStateForce(streamID string, target schema.StreamState) (schema.StreamRecord, error) {
	stream, _, err := s.setStreamState(streamID, target, true)
	return stream, err
}

func (s *Store) setStreamState(streamID string, target schema.StreamState, force bool) (schema.StreamRecord, []string, error) {
	if !target.Valid() {
		return schema.StreamRecord{}, nil, faults.Validationf("invalid stream state %q, allowed: %s",
			target, joinNames(schema.StreamStateNames()))
	}

	s.mu.Lock()
	stream, ok := s.state.Streams[streamID]
	if !ok {
		s.mu.Unlock()
		return schema.StreamRecord{}, nil, faults.NotFound("stream", streamID)
	}

	var interrupted []string
	if !force && target == schema.StreamRunning {
		var err error
		interrupted, err = s.applyDuplexPolicyLocked(stream)
		if err != nil {
			s.mu.Unlock()
			return schema.StreamRecord{}, nil, err
		}
	}

	now := timestamp()
	leavingRunning := stream.State == schema.StreamRunning && target != schema.StreamRunning
	stream.State = target
	stream.LastTransition = now
	s.state.Streams[streamID] = stream
	if leavingRunning {
		s.state.Meters[streamID] = schema.MeterSnapshot{StreamID: streamID, UpdatedAt: now}
	}

	events := []eventbus.StreamLifecycleEvent{{
		StreamID:  streamID,
		Direction: stream.Direction,
		State:     target,
		Forced:    force,
	}}
	for _, id := range interrupted {
		victim := s.state.Streams[id]
		events = append(events, eventbus.StreamLifecycleEvent{
			StreamID:  id,
			Direction: victim.Direction,
			State:     victim.State,
			Forced:    true,
		})
	}
	s.mu.Unlock()

	s.logger.Printf("[AudioState] stream %s -> %s (forced=%v, interrupted=%d)", streamID, target, force, len(interrupted))
	for _, ev := range events {
		eventbus.Publish(context.Background(), s.bus, eventbus.TopicAudioLifecycle, eventbus.SourceAudioState, ev)
	}
	if len(interrupted) > 0 {
		eventbus.Publish(context.Background(), s.bus, eventbus.TopicAudioBargeIn, eventbus.SourceAudioState, eventbus.BargeInEvent{
			StreamID:    streamID,
			Interrupted: interrupted,
		})
	}
	return stream, interrupted, nil
}

// applyDuplexPolicyLocked enforces the arbitration table for a stream about
// to enter running. Under barge-in it pauses running playback streams and
// returns their ids; the gated policies reject the transition instead.
func (s *Store) applyDuplexPolicyLocked(starting schema.StreamRecord) ([]string, error) {
	policy := s.state.DuplexPolicy
	if policy == schema.PolicyAllowOverlap {
		return nil, nil
	}

	switch policy {
	case schema.PolicyCaptureGatedByPlayback:
		if starting.Direction.IsCapture() && s.anyRunningLocked(starting.StreamID, schema.Direction.IsPlayback) {
			return nil, faults.PolicyViolationf(
				"capture start blocked by active playback under %s policy", policy)
		}
	case schema.PolicyPlaybackGatedByCapture:
		if starting.Direction.IsPlayback() && s.anyRunningLocked(starting.StreamID, schema.Direction.IsCapture) {
			return nil, faults.PolicyViolationf(
				"playback start blocked by active capture under %s policy", policy)
		}
	case schema.PolicyBargeInEnabled:
		if !starting.Direction.IsCapture() {
			return nil, nil
		}
		var interrupted []string
		now := timestamp()
		for id, other := range s.state.Streams {
			if id == starting.StreamID || other.State != schema.StreamRunning || !other.Direction.IsPlayback() {
				continue
			}
			other.State = schema.StreamPaused
			other.LastTransition = now
			s.state.Streams[id] = other
			interrupted = append(interrupted, id)
		}
		sort.Strings(interrupted)
		return interrupted, nil
	}
	return nil, nil
}

func (s *Store) anyRunningLocked(excludeID string, match func(schema.Direction) bool) bool {
	for id, stream := range s.state.Streams {
		if id == excludeID {
			continue
		}
		if stream.State == schema.StreamRunning && match(stream.Direction) {
			return true
		}
	}
	return false
}

// ControlsUpdate is a partial update to per-stream controls and the global
// push-to-talk flag. Nil fields are left unchanged.
type ControlsUpdate struct {
	StreamID   string
	GainDB     *float64
	Muted      *bool
	PushToTalk *bool
}

// SetControls applies a partial controls update. Gain and mute updates
// require an existing stream; push-to-talk is global and needs none. The
// returned record reflects the stream's controls after the update (zero
// valued when only push-to-talk changed).
func (s *Store) SetControls(update ControlsUpdate) (schema.ControlRecord, bool, error) {
	s.mu.Lock()
	if update.GainDB != nil || update.Muted != nil {
		if _, ok := s.state.Streams[update.StreamID]; !ok {
			s.mu.Unlock()
			return schema.ControlRecord{}, false, faults.NotFound("stream", update.StreamID)
		}
		control, ok := s.state.Controls[update.StreamID]
		if !ok {
			control = schema.ControlRecord{StreamID: update.StreamID}
		}
		if update.GainDB != nil {
			control.GainDB = *update.GainDB
		}
		if update.Muted != nil {
			control.Muted = *update.Muted
		}
		s.state.Controls[update.StreamID] = control
	}
	if update.PushToTalk != nil {
		s.state.PushToTalk = *update.PushToTalk
	}
	control := s.state.Controls[update.StreamID]
	if control.StreamID == "" {
		control.StreamID = update.StreamID
	}
	pushToTalk := s.state.PushToTalk
	s.mu.Unlock()
	return control, pushToTalk, nil
}

// SetPushToTalk sets the global push-to-talk flag.
func (s *Store) SetPushToTalk(enabled bool) {
	s.mu.Lock()
	s.state.PushToTalk = enabled
	s.mu.Unlock()
}

// PushToTalk reports the global push-to-talk flag.
func (s *Store) PushToTalk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PushToTalk
}

// GetControl returns the controls for a stream, default-valued when none
// were ever set.
func (s *Store) GetControl(streamID string) schema.ControlRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	control, ok := s.state.Controls[streamID]
	if !ok {
		return schema.ControlRecord{StreamID: streamID}
	}
	return control
}

// UpsertMeter stores a meter snapshot, stamping its timestamp, and publishes
// a meter event. Snapshots for unknown streams are ignored.
func (s *Store) UpsertMeter(meter schema.MeterSnapshot) {
	s.mu.Lock()
	if _, ok := s.state.Streams[meter.StreamID]; !ok {
		s.mu.Unlock()
		return
	}
	meter.UpdatedAt = timestamp()
	s.state.Meters[meter.StreamID] = meter
	s.mu.Unlock()

	eventbus.Publish(context.Background(), s.bus, eventbus.TopicAudioMeters, eventbus.SourceAudioState, eventbus.MeterEvent{Meter: meter})
}

// ListMeters returns all meter snapshots sorted by stream id.
func (s *Store) ListMeters() []schema.MeterSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.MeterSnapshot, 0, len(s.state.Meters))
	for _, meter := range s.state.Meters {
		out = append(out, meter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
