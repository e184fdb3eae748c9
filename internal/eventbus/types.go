package eventbus

import (
	"time"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
)

// Topic identifies a message category on the bus.
type Topic string

const (
	// TopicAudioMeters carries MeterEvent payloads at block rate.
	TopicAudioMeters Topic = "audio.meters"
	// TopicAudioLifecycle carries StreamLifecycleEvent payloads.
	TopicAudioLifecycle Topic = "audio.lifecycle"
	// TopicAudioBargeIn carries BargeInEvent payloads.
	TopicAudioBargeIn Topic = "audio.barge_in"
)

// Source identifies the component that published an envelope.
type Source string

const (
	SourceUnknown     Source = "unknown"
	SourceAudioState  Source = "audio.state"
	SourceAudioEngine Source = "audio.engine"
	SourceAPI         Source = "api"
)

// Envelope wraps a payload with routing metadata.
type Envelope struct {
	Topic     Topic
	Source    Source
	Timestamp time.Time
	Payload   any
}

// MeterEvent is published whenever a stream's meter snapshot is refreshed.
type MeterEvent struct {
	Meter schema.MeterSnapshot
}

// StreamLifecycleEvent is published when a stream commits a state transition.
type StreamLifecycleEvent struct {
	StreamID  string
	Direction schema.Direction
	State     schema.StreamState
	Forced    bool
}

// BargeInEvent is published when starting a capture stream forcibly paused
// running playback streams.
type BargeInEvent struct {
	StreamID    string
	Interrupted []string
}
