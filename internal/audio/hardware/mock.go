package hardware

import (
	"fmt"
	"sync"
)

// MockBackend is an in-memory Backend for tests. Callbacks are never invoked
// automatically; tests drive them through the returned MockStream.
type MockBackend struct {
	mu      sync.Mutex
	inv     Inventory
	streams []*MockStream

	// FailOpen, when set, makes every Open* call return this error.
	FailOpen error
}

// NewMockBackend builds a mock backend with a two-device inventory.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		inv: Inventory{
			Backend: "mock",
			InputDevices: []Device{
				{ID: "0", Name: "Mock Microphone", Channels: 1, SampleRate: 48000},
			},
			OutputDevices: []Device{
				{ID: "1", Name: "Mock Speakers", Channels: 2, SampleRate: 48000},
			},
			DefaultInputDeviceID:  "0",
			DefaultOutputDeviceID: "1",
		},
	}
}

// Name implements Backend.
func (b *MockBackend) Name() string { return "mock" }

// SetInventory replaces the reported inventory.
func (b *MockBackend) SetInventory(inv Inventory) {
	b.mu.Lock()
	b.inv = inv
	b.mu.Unlock()
}

// Enumerate implements Backend.
func (b *MockBackend) Enumerate() Inventory {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inv
}

// Streams returns every stream opened so far, including closed ones.
func (b *MockBackend) Streams() []*MockStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*MockStream, len(b.streams))
	copy(out, b.streams)
	return out
}

func (b *MockBackend) open(kind string, cfg StreamConfig) (*MockStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailOpen != nil {
		return nil, b.FailOpen
	}
	s := &MockStream{Kind: kind, Config: cfg}
	b.streams = append(b.streams, s)
	return s, nil
}

// OpenInput implements Backend.
func (b *MockBackend) OpenInput(cfg StreamConfig, cb InputCallback) (Stream, error) {
	s, err := b.open("input", cfg)
	if err != nil {
		return nil, err
	}
	s.input = cb
	return s, nil
}

// OpenOutput implements Backend.
func (b *MockBackend) OpenOutput(cfg StreamConfig, cb OutputCallback) (Stream, error) {
	s, err := b.open("output", cfg)
	if err != nil {
		return nil, err
	}
	s.output = cb
	return s, nil
}

// OpenDuplex implements Backend.
func (b *MockBackend) OpenDuplex(cfg StreamConfig, cb DuplexCallback) (Stream, error) {
	s, err := b.open("duplex", cfg)
	if err != nil {
		return nil, err
	}
	s.duplex = cb
	return s, nil
}

// MockStream records lifecycle calls and lets tests feed blocks into the
// registered callback.
type MockStream struct {
	Kind   string
	Config StreamConfig

	mu      sync.Mutex
	started bool
	closed  bool
	starts  int
	stops   int

	input  InputCallback
	output OutputCallback
	duplex DuplexCallback
}

// Start implements Stream.
func (s *MockStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("hardware: stream closed")
	}
	s.started = true
	s.starts++
	return nil
}

// Stop implements Stream.
func (s *MockStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("hardware: stream closed")
	}
	s.started = false
	s.stops++
	return nil
}

// Close implements Stream.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.closed = true
	return nil
}

// Running reports whether the stream is started and not closed.
func (s *MockStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Starts returns how many times Start was called.
func (s *MockStream) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// FeedInput pushes a capture block through the input callback if the stream
// is running.
func (s *MockStream) FeedInput(block []float32) {
	s.mu.Lock()
	cb := s.input
	running := s.started && !s.closed
	s.mu.Unlock()
	if running && cb != nil {
		cb(block)
	}
}

// PullOutput asks the output callback to fill a block of the given length.
func (s *MockStream) PullOutput(n int) []float32 {
	s.mu.Lock()
	cb := s.output
	running := s.started && !s.closed
	s.mu.Unlock()
	block := make([]float32, n)
	if running && cb != nil {
		cb(block)
	}
	return block
}

// FeedDuplex pushes a capture block through the duplex callback and returns
// the playback block the callback produced.
func (s *MockStream) FeedDuplex(in []float32) []float32 {
	s.mu.Lock()
	cb := s.duplex
	running := s.started && !s.closed
	s.mu.Unlock()
	out := make([]float32, len(in))
	if running && cb != nil {
		cb(in, out)
	}
	return out
}
