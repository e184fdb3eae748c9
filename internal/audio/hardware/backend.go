// Package hardware abstracts the audio device backend behind a narrow
// interface: device enumeration and input/output/duplex stream acquisition.
// The runtime engine depends only on Backend so tests and backend-less
// deployments run against the mock implementation.
package hardware

// Error codes reported by Enumerate when no device inventory is available.
const (
	ErrCodeMissingDependency = "missing_dependency"
	ErrCodeBackendError      = "backend_error"
)

// Device describes one enumerated audio endpoint.
type Device struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate float64 `json:"sample_rate,omitempty"`
}

// Inventory is the result of a best-effort device enumeration. When the
// backend is unavailable the lists are empty and Err/ErrCode/Hint describe a
// structured degradation instead of a failure.
type Inventory struct {
	Backend               string   `json:"backend"`
	InputDevices          []Device `json:"input_devices"`
	OutputDevices         []Device `json:"output_devices"`
	DefaultInputDeviceID  string   `json:"default_input_device_id,omitempty"`
	DefaultOutputDeviceID string   `json:"default_output_device_id,omitempty"`
	Err                   string   `json:"error,omitempty"`
	ErrCode               string   `json:"error_code,omitempty"`
	Hint                  string   `json:"hint,omitempty"`
}

// StreamConfig carries the parameters needed to open a hardware stream.
// Device ids are backend-specific; empty means the backend default.
type StreamConfig struct {
	SampleRate     int
	Channels       int
	Blocksize      int
	InputDeviceID  string
	OutputDeviceID string
}

// InputCallback receives one interleaved capture block
// (Blocksize * Channels samples). It runs on the backend's callback
// goroutine and must not block beyond brief mutex waits.
type InputCallback func(block []float32)

// OutputCallback fills one interleaved playback block in place.
type OutputCallback func(block []float32)

// DuplexCallback receives a capture block and fills the playback block for
// the same timeslot.
type DuplexCallback func(in, out []float32)

// Stream is a live hardware stream handle. Stop pauses delivery but keeps
// the handle resumable via Start; Close releases it.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Backend is the narrow device-backend contract.
type Backend interface {
	Name() string
	Enumerate() Inventory
	OpenInput(cfg StreamConfig, cb InputCallback) (Stream, error)
	OpenOutput(cfg StreamConfig, cb OutputCallback) (Stream, error)
	OpenDuplex(cfg StreamConfig, cb DuplexCallback) (Stream, error)
}

// Unavailable builds the degraded inventory reported when no backend is
// wired in at all.
func Unavailable() Inventory {
	return Inventory{
		Backend:       "none",
		InputDevices:  []Device{},
		OutputDevices: []Device{},
		Err:           "audio device backend is not available",
		ErrCode:       ErrCodeMissingDependency,
		Hint:          "build with the portaudio backend and ensure the PortAudio library is installed",
	}
}
