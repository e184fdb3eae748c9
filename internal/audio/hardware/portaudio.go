package hardware

import (
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend drives real audio hardware through the PortAudio library.
// Library initialization is deferred to first use so constructing the backend
// never touches the host audio subsystem.
type PortAudioBackend struct {
	logger   *log.Logger
	initOnce sync.Once
	initErr  error
}

// PortAudioOption customises the PortAudio backend.
type PortAudioOption func(*PortAudioBackend)

// WithPortAudioLogger overrides the backend logger.
func WithPortAudioLogger(logger *log.Logger) PortAudioOption {
	return func(b *PortAudioBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewPortAudioBackend constructs the backend without initializing PortAudio.
func NewPortAudioBackend(opts ...PortAudioOption) *PortAudioBackend {
	backend := &PortAudioBackend{logger: log.Default()}
	for _, opt := range opts {
		opt(backend)
	}
	return backend
}

// Name implements Backend.
func (b *PortAudioBackend) Name() string {
	return "portaudio"
}

func (b *PortAudioBackend) ensureInit() error {
	b.initOnce.Do(func() {
		if err := portaudio.Initialize(); err != nil {
			b.initErr = err
			b.logger.Printf("[Hardware] portaudio initialization failed: %v", err)
			return
		}
		b.logger.Printf("[Hardware] portaudio initialized")
	})
	return b.initErr
}

// Terminate releases the PortAudio library if it was initialized.
func (b *PortAudioBackend) Terminate() {
	b.initOnce.Do(func() {
		// Never initialized; mark as failed so later calls do not
		// re-initialize after termination.
		b.initErr = fmt.Errorf("hardware: backend terminated")
	})
	if b.initErr == nil {
		if err := portaudio.Terminate(); err != nil {
			b.logger.Printf("[Hardware] portaudio terminate failed: %v", err)
		}
		b.initErr = fmt.Errorf("hardware: backend terminated")
	}
}

// Enumerate implements Backend. Failures degrade to a structured inventory
// rather than an error so the control plane can always answer device queries.
func (b *PortAudioBackend) Enumerate() Inventory {
	inv := Inventory{
		Backend:       b.Name(),
		InputDevices:  []Device{},
		OutputDevices: []Device{},
	}
	if err := b.ensureInit(); err != nil {
		inv.Err = err.Error()
		inv.ErrCode = ErrCodeMissingDependency
		inv.Hint = "install the PortAudio shared library (for example libportaudio2)"
		return inv
	}
	devices, err := portaudio.Devices()
	if err != nil {
		inv.Err = err.Error()
		inv.ErrCode = ErrCodeBackendError
		return inv
	}
	for _, info := range devices {
		dev := Device{
			ID:         strconv.Itoa(info.Index),
			Name:       info.Name,
			SampleRate: info.DefaultSampleRate,
		}
		if info.MaxInputChannels > 0 {
			dev.Channels = info.MaxInputChannels
			inv.InputDevices = append(inv.InputDevices, dev)
		}
		if info.MaxOutputChannels > 0 {
			dev.Channels = info.MaxOutputChannels
			inv.OutputDevices = append(inv.OutputDevices, dev)
		}
	}
	if in, err := portaudio.DefaultInputDevice(); err == nil && in != nil {
		inv.DefaultInputDeviceID = strconv.Itoa(in.Index)
	}
	if out, err := portaudio.DefaultOutputDevice(); err == nil && out != nil {
		inv.DefaultOutputDeviceID = strconv.Itoa(out.Index)
	}
	return inv
}

func (b *PortAudioBackend) resolveDevice(id string, input bool) (*portaudio.DeviceInfo, error) {
	if id == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	index, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("hardware: invalid device id %q", id)
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range devices {
		if info.Index == index {
			return info, nil
		}
	}
	return nil, fmt.Errorf("hardware: device %q not found", id)
}

// OpenInput implements Backend.
func (b *PortAudioBackend) OpenInput(cfg StreamConfig, cb InputCallback) (Stream, error) {
	if err := b.ensureInit(); err != nil {
		return nil, err
	}
	dev, err := b.resolveDevice(cfg.InputDeviceID, true)
	if err != nil {
		return nil, err
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.Blocksize,
	}
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		cb(in)
	})
	if err != nil {
		return nil, err
	}
	return &portAudioStream{stream: stream}, nil
}

// OpenOutput implements Backend.
func (b *PortAudioBackend) OpenOutput(cfg StreamConfig, cb OutputCallback) (Stream, error) {
	if err := b.ensureInit(); err != nil {
		return nil, err
	}
	dev, err := b.resolveDevice(cfg.OutputDeviceID, false)
	if err != nil {
		return nil, err
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultHighOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.Blocksize,
	}
	stream, err := portaudio.OpenStream(params, func(out []float32) {
		cb(out)
	})
	if err != nil {
		return nil, err
	}
	return &portAudioStream{stream: stream}, nil
}

// OpenDuplex implements Backend.
func (b *PortAudioBackend) OpenDuplex(cfg StreamConfig, cb DuplexCallback) (Stream, error) {
	if err := b.ensureInit(); err != nil {
		return nil, err
	}
	inDev, err := b.resolveDevice(cfg.InputDeviceID, true)
	if err != nil {
		return nil, err
	}
	outDev, err := b.resolveDevice(cfg.OutputDeviceID, false)
	if err != nil {
		return nil, err
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inDev,
			Channels: cfg.Channels,
			Latency:  inDev.DefaultHighInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: cfg.Channels,
			Latency:  outDev.DefaultHighOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.Blocksize,
	}
	stream, err := portaudio.OpenStream(params, func(in, out []float32) {
		cb(in, out)
	})
	if err != nil {
		return nil, err
	}
	return &portAudioStream{stream: stream}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error { return s.stream.Start() }
func (s *portAudioStream) Stop() error  { return s.stream.Stop() }
func (s *portAudioStream) Close() error { return s.stream.Close() }
