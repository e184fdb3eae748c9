// Package graph validates and materializes route definitions and classifies
// a route's direction from its endpoint node kinds.
package graph

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
)

// Validate checks every node kind against its role vocabulary. The returned
// fault names the offending node role and the allowed kind set.
func Validate(req schema.RouteUpsertRequest) error {
	if !schema.SourceKind(req.Source.Kind).Valid() {
		return faults.Validationf("invalid source kind %q, allowed: %s",
			req.Source.Kind, strings.Join(schema.SourceKindNames(), ", "))
	}
	for _, proc := range req.Processors {
		if !schema.ProcessorKind(proc.Kind).Valid() {
			return faults.Validationf("invalid processor kind %q, allowed: %s",
				proc.Kind, strings.Join(schema.ProcessorKindNames(), ", "))
		}
	}
	if !schema.SinkKind(req.Sink.Kind).Valid() {
		return faults.Validationf("invalid sink kind %q, allowed: %s",
			req.Sink.Kind, strings.Join(schema.SinkKindNames(), ", "))
	}
	return nil
}

// Materialize validates the request and produces an immutable route record.
// A missing route id is generated; the input is never mutated.
func Materialize(req schema.RouteUpsertRequest) (schema.RouteRecord, error) {
	if err := Validate(req); err != nil {
		return schema.RouteRecord{}, err
	}

	routeID := strings.TrimSpace(req.RouteID)
	if routeID == "" {
		routeID = uuid.NewString()
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	record := schema.RouteRecord{
		RouteID: routeID,
		Name:    req.Name,
		Source:  req.Source.Clone(),
		Sink:    req.Sink.Clone(),
		Enabled: enabled,
	}
	if len(req.Processors) > 0 {
		record.Processors = make([]schema.Node, len(req.Processors))
		for i, p := range req.Processors {
			record.Processors[i] = p.Clone()
		}
	}
	return record, nil
}

// InferDirection classifies the route as capture, playback, or hybrid.
// The result is a pure function of the endpoint node kinds: device ids and
// node config never affect classification.
func InferDirection(route schema.RouteRecord) schema.Direction {
	captureSource := hasCaptureSource(route)
	playbackSink := hasPlaybackSink(route)
	switch {
	case captureSource && playbackSink:
		return schema.DirectionHybrid
	case captureSource:
		return schema.DirectionCapture
	case playbackSink:
		return schema.DirectionPlayback
	default:
		return schema.DirectionHybrid
	}
}

func hasCaptureSource(route schema.RouteRecord) bool {
	switch schema.SourceKind(route.Source.Kind) {
	case schema.SourceMic, schema.SourceLoopback:
		return true
	default:
		return false
	}
}

func hasPlaybackSink(route schema.RouteRecord) bool {
	switch schema.SinkKind(route.Sink.Kind) {
	case schema.SinkSpeakers, schema.SinkVirtualOutput, schema.SinkFile:
		return true
	default:
		return false
	}
}
