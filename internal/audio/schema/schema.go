// Package schema defines the data model for the audio routing control plane:
// node kind vocabularies, route records, derived stream/control/meter records,
// and the duplex policy and stream state enumerations.
package schema

import "sort"

// SourceKind identifies where a route's audio originates.
type SourceKind string

const (
	SourceMic       SourceKind = "mic"
	SourceLoopback  SourceKind = "loopback"
	SourceFileInput SourceKind = "file_input"
	SourceTestTone  SourceKind = "test_tone"
	SourceTTS       SourceKind = "tts"
)

// ProcessorKind identifies an intermediate processing stage.
type ProcessorKind string

const (
	ProcessorASRIngress         ProcessorKind = "asr_ingress"
	ProcessorTTSEgressFormatter ProcessorKind = "tts_egress_formatter"
	ProcessorResampler          ProcessorKind = "resampler"
	ProcessorPassthrough        ProcessorKind = "passthrough"
)

// SinkKind identifies where a route's audio terminates.
type SinkKind string

const (
	SinkSpeakers      SinkKind = "speakers"
	SinkFile          SinkKind = "file"
	SinkVirtualOutput SinkKind = "virtual_output"
	SinkASR           SinkKind = "asr"
)

var sourceKinds = map[SourceKind]struct{}{
	SourceMic:       {},
	SourceLoopback:  {},
	SourceFileInput: {},
	SourceTestTone:  {},
	SourceTTS:       {},
}

var processorKinds = map[ProcessorKind]struct{}{
	ProcessorASRIngress:         {},
	ProcessorTTSEgressFormatter: {},
	ProcessorResampler:          {},
	ProcessorPassthrough:        {},
}

var sinkKinds = map[SinkKind]struct{}{
	SinkSpeakers:      {},
	SinkFile:          {},
	SinkVirtualOutput: {},
	SinkASR:           {},
}

// Valid reports whether the kind belongs to the source vocabulary.
func (k SourceKind) Valid() bool {
	_, ok := sourceKinds[k]
	return ok
}

// Valid reports whether the kind belongs to the processor vocabulary.
func (k ProcessorKind) Valid() bool {
	_, ok := processorKinds[k]
	return ok
}

// Valid reports whether the kind belongs to the sink vocabulary.
func (k SinkKind) Valid() bool {
	_, ok := sinkKinds[k]
	return ok
}

// SourceKindNames returns the sorted source vocabulary for error messages.
func SourceKindNames() []string {
	return sortedKeys(sourceKinds)
}

// ProcessorKindNames returns the sorted processor vocabulary.
func ProcessorKindNames() []string {
	return sortedKeys(processorKinds)
}

// SinkKindNames returns the sorted sink vocabulary.
func SinkKindNames() []string {
	return sortedKeys(sinkKinds)
}

func sortedKeys[K ~string](set map[K]struct{}) []string {
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Direction classifies a route by its endpoint kinds.
type Direction string

const (
	DirectionCapture  Direction = "capture"
	DirectionPlayback Direction = "playback"
	DirectionHybrid   Direction = "hybrid"
)

// IsCapture reports whether streams of this direction count as capture for
// duplex arbitration. Hybrid counts as both.
func (d Direction) IsCapture() bool {
	return d == DirectionCapture || d == DirectionHybrid
}

// IsPlayback reports whether streams of this direction count as playback.
func (d Direction) IsPlayback() bool {
	return d == DirectionPlayback || d == DirectionHybrid
}

// StreamState is the lifecycle state of a derived stream.
type StreamState string

const (
	StreamStopped StreamState = "stopped"
	StreamRunning StreamState = "running"
	StreamPaused  StreamState = "paused"
)

var streamStates = map[StreamState]struct{}{
	StreamStopped: {},
	StreamRunning: {},
	StreamPaused:  {},
}

// Valid reports whether the state is one of stopped/running/paused.
func (s StreamState) Valid() bool {
	_, ok := streamStates[s]
	return ok
}

// StreamStateNames returns the sorted state vocabulary.
func StreamStateNames() []string {
	return sortedKeys(streamStates)
}

// DuplexPolicy is the arbitration mode governing concurrent capture and
// playback streams.
type DuplexPolicy string

const (
	PolicyCaptureGatedByPlayback DuplexPolicy = "capture_gated_by_playback"
	PolicyPlaybackGatedByCapture DuplexPolicy = "playback_gated_by_capture"
	PolicyAllowOverlap           DuplexPolicy = "allow_overlap"
	PolicyBargeInEnabled         DuplexPolicy = "barge_in_enabled"
)

var duplexPolicies = map[DuplexPolicy]struct{}{
	PolicyCaptureGatedByPlayback: {},
	PolicyPlaybackGatedByCapture: {},
	PolicyAllowOverlap:           {},
	PolicyBargeInEnabled:         {},
}

// Valid reports whether the policy is one of the four arbitration modes.
func (p DuplexPolicy) Valid() bool {
	_, ok := duplexPolicies[p]
	return ok
}

// DuplexPolicyNames returns the sorted policy vocabulary.
func DuplexPolicyNames() []string {
	return sortedKeys(duplexPolicies)
}

// Node is one vertex in a route graph: a source, processor, or sink.
type Node struct {
	Kind     string         `json:"kind" validate:"required"`
	Name     string         `json:"name,omitempty"`
	DeviceID string         `json:"device_id,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Clone returns a deep copy; the config map is never shared.
func (n Node) Clone() Node {
	out := n
	if n.Config != nil {
		out.Config = make(map[string]any, len(n.Config))
		for k, v := range n.Config {
			out.Config[k] = v
		}
	}
	return out
}

// RouteRecord is a materialized route definition. Records are immutable once
// stored; replacement happens via full upsert.
type RouteRecord struct {
	RouteID    string `json:"route_id"`
	Name       string `json:"name,omitempty"`
	Source     Node   `json:"source"`
	Processors []Node `json:"processors,omitempty"`
	Sink       Node   `json:"sink"`
	Enabled    bool   `json:"enabled"`
}

// Clone returns a deep copy of the record.
func (r RouteRecord) Clone() RouteRecord {
	out := r
	out.Source = r.Source.Clone()
	out.Sink = r.Sink.Clone()
	if r.Processors != nil {
		out.Processors = make([]Node, len(r.Processors))
		for i, p := range r.Processors {
			out.Processors[i] = p.Clone()
		}
	}
	return out
}

// RouteUpsertRequest is the caller-supplied route definition before
// materialization. A nil Enabled defaults to true.
type RouteUpsertRequest struct {
	RouteID    string `json:"route_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Source     Node   `json:"source" validate:"required"`
	Processors []Node `json:"processors,omitempty"`
	Sink       Node   `json:"sink" validate:"required"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

// StreamRecord is the derived runtime-facing entity for a route. Its id
// always equals the owning route id.
type StreamRecord struct {
	StreamID       string      `json:"stream_id"`
	RouteID        string      `json:"route_id"`
	Direction      Direction   `json:"direction"`
	State          StreamState `json:"state"`
	LastTransition string      `json:"last_transition_utc,omitempty"`
}

// ControlRecord holds per-stream gain and mute settings.
type ControlRecord struct {
	StreamID string  `json:"stream_id"`
	GainDB   float64 `json:"gain_db"`
	Muted    bool    `json:"muted"`
}

// MeterSnapshot is the most recent level measurement for a stream.
type MeterSnapshot struct {
	StreamID  string  `json:"stream_id"`
	Peak      float64 `json:"peak"`
	RMS       float64 `json:"rms"`
	Clipped   bool    `json:"clipped"`
	UpdatedAt string  `json:"updated_at_utc,omitempty"`
}

// ModuleState is the aggregate control-plane state.
type ModuleState struct {
	AudioEnabled          bool                     `json:"audio_enabled"`
	DefaultInputDeviceID  string                   `json:"default_input_device_id,omitempty"`
	DefaultOutputDeviceID string                   `json:"default_output_device_id,omitempty"`
	Routes                map[string]RouteRecord   `json:"routes"`
	Streams               map[string]StreamRecord  `json:"streams"`
	Controls              map[string]ControlRecord `json:"controls"`
	Meters                map[string]MeterSnapshot `json:"meters"`
	DuplexPolicy          DuplexPolicy             `json:"duplex_policy"`
	PushToTalk            bool                     `json:"push_to_talk"`
}
