// Package engine binds control-plane streams to runtime resources: hardware
// input/output/duplex streams for device endpoints, software-timed workers
// for file and ASR sinks, and the per-block processing pipeline (controls,
// metering, ASR conversion and dispatch, recording).
package engine

import (
	"log"
	"sync"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/adapters"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/audiofmt"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/hardware"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
)

// ControlPlane is the slice of the state store the engine reads on the block
// path and writes meters through.
type ControlPlane interface {
	GetControl(streamID string) schema.ControlRecord
	UpsertMeter(meter schema.MeterSnapshot)
	Defaults() (inputID, outputID string)
}

// Engine owns runtime stream bundles. The engine lock guards the bundle map
// and lifecycle transitions only; the block pipeline never takes it.
type Engine struct {
	logger  *log.Logger
	backend hardware.Backend
	cp      ControlPlane
	asr     adapters.ASRAdapter
	tts     adapters.TTSAdapter

	mu      sync.Mutex
	running bool
	streams map[string]*runtimeStream

	diagMu  sync.Mutex
	lastASR map[string]adapters.Result
	lastTTS map[string]adapters.Result
}

// Option customises the engine.
type Option func(*Engine)

// WithLogger overrides the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithASRAdapter sets the speech recognition adapter.
func WithASRAdapter(adapter adapters.ASRAdapter) Option {
	return func(e *Engine) {
		e.asr = adapter
	}
}

// WithTTSAdapter sets the speech synthesis adapter.
func WithTTSAdapter(adapter adapters.TTSAdapter) Option {
	return func(e *Engine) {
		e.tts = adapter
	}
}

// New constructs an engine over the given backend and control plane.
func New(backend hardware.Backend, cp ControlPlane, opts ...Option) *Engine {
	engine := &Engine{
		logger:  log.Default(),
		backend: backend,
		cp:      cp,
		streams: make(map[string]*runtimeStream),
		lastASR: make(map[string]adapters.Result),
		lastTTS: make(map[string]adapters.Result),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// StartStream binds the stream to runtime resources, or resumes an existing
// bundle. Resuming never rebuilds: a paused stream keeps its hardware handle,
// recording file, and signal cursor.
func (e *Engine) StartStream(streamID string, route schema.RouteRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true

	if rs, ok := e.streams[streamID]; ok {
		return e.activateLocked(rs)
	}

	rs, err := e.buildLocked(streamID, route)
	if err != nil {
		return err
	}
	if err := e.activateLocked(rs); err != nil {
		rs.release(e.logger)
		return err
	}
	e.streams[streamID] = rs
	e.logger.Printf("[AudioEngine] stream %s bound (%s -> %s)", streamID, route.Source.Kind, route.Sink.Kind)
	return nil
}

func (e *Engine) activateLocked(rs *runtimeStream) error {
	if rs.hw != nil {
		if err := rs.hw.Start(); err != nil {
			return faults.Runtime("start hardware stream", err)
		}
	}
	if rs.work != nil {
		rs.work.resume()
	}
	rs.active = true
	return nil
}

// buildLocked constructs the resource bundle for a route. The shape is keyed
// on the (source kind, sink kind) pair: capture sources open hardware input
// (or duplex when the sink is a device), software sources render a signal
// buffer and attach it to a device output or a software-timed worker.
func (e *Engine) buildLocked(streamID string, route schema.RouteRecord) (*runtimeStream, error) {
	// Stream parameters read the source config first, then the sink config,
	// so a route defined around its endpoint still shapes the stream.
	rs := &runtimeStream{
		streamID:   streamID,
		route:      route,
		sampleRate: configInt(route.Source.Config, "sample_rate", configInt(route.Sink.Config, "sample_rate", defaultSampleRate)),
		channels:   configInt(route.Source.Config, "channels", configInt(route.Sink.Config, "channels", defaultChannels)),
		blocksize:  configInt(route.Source.Config, "blocksize", configInt(route.Sink.Config, "blocksize", defaultBlocksize)),
	}
	if rs.sampleRate <= 0 || rs.channels <= 0 || rs.blocksize <= 0 {
		return nil, faults.Validationf("stream %s has non-positive sample_rate, channels, or blocksize", streamID)
	}

	// ASR ingestion is keyed on the route shape, not the sink alone: an
	// asr_ingress processor turns it on for any build, including
	// duplex passthrough and recording routes.
	if routeHasASRIngress(route) {
		rs.needsASR = true
		rs.asrModelHint = resolveASRModelHint(route)
		rs.dispatchEvery = configInt(route.Source.Config, "asr_dispatch_every",
			configInt(route.Sink.Config, "asr_dispatch_every", defaultDispatchEvery))
		rs.ring = newRingBuffer(ringCapacity)
	}

	defaultIn, defaultOut := e.cp.Defaults()
	hwCfg := hardware.StreamConfig{
		SampleRate:     rs.sampleRate,
		Channels:       rs.channels,
		Blocksize:      rs.blocksize,
		InputDeviceID:  route.Source.DeviceID,
		OutputDeviceID: route.Sink.DeviceID,
	}
	if hwCfg.InputDeviceID == "" {
		hwCfg.InputDeviceID = defaultIn
	}
	if hwCfg.OutputDeviceID == "" {
		hwCfg.OutputDeviceID = defaultOut
	}

	if isCaptureSource(route.Source.Kind) {
		return e.buildCaptureLocked(rs, route, hwCfg)
	}
	return e.buildSoftwareLocked(rs, route, hwCfg)
}

func (e *Engine) buildCaptureLocked(rs *runtimeStream, route schema.RouteRecord, hwCfg hardware.StreamConfig) (*runtimeStream, error) {
	sinkKind := schema.SinkKind(route.Sink.Kind)

	if isDeviceSink(route.Sink.Kind) {
		stream, err := e.backend.OpenDuplex(hwCfg, func(in, out []float32) {
			block := make([]float32, len(in))
			copy(block, in)
			e.processBlock(rs, block, rs.channels)
			copy(out, block)
		})
		if err != nil {
			return nil, faults.Runtime("open duplex stream", err)
		}
		rs.hw = stream
		return rs, nil
	}

	if sinkKind == schema.SinkFile {
		format := audiofmt.PCM16(rs.sampleRate, rs.channels)
		writer, err := openFileWriter(fileSinkPath(route.Sink, rs.streamID), format)
		if err != nil {
			return nil, faults.Runtime("open recording sink", err)
		}
		rs.file = writer
	}

	stream, err := e.backend.OpenInput(hwCfg, func(in []float32) {
		block := make([]float32, len(in))
		copy(block, in)
		e.processBlock(rs, block, rs.channels)
	})
	if err != nil {
		if rs.file != nil {
			rs.file.Close()
		}
		return nil, faults.Runtime("open input stream", err)
	}
	rs.hw = stream
	return rs, nil
}

func (e *Engine) buildSoftwareLocked(rs *runtimeStream, route schema.RouteRecord, hwCfg hardware.StreamConfig) (*runtimeStream, error) {
	signal, ttsResult, err := e.materializeSignal(route, rs.sampleRate)
	if err != nil {
		return nil, err
	}
	rs.signal = signal
	if ttsResult != nil {
		e.recordTTSResult(rs.streamID, *ttsResult)
	}

	switch schema.SinkKind(route.Sink.Kind) {
	case schema.SinkFile:
		format := audiofmt.PCM16(rs.sampleRate, 1)
		writer, err := openFileWriter(fileSinkPath(route.Sink, rs.streamID), format)
		if err != nil {
			return nil, faults.Runtime("open recording sink", err)
		}
		rs.file = writer
		e.startWorker(rs)
	case schema.SinkASR:
		e.startWorker(rs)
	case schema.SinkSpeakers, schema.SinkVirtualOutput:
		stream, err := e.backend.OpenOutput(hwCfg, func(out []float32) {
			frames := len(out) / rs.channels
			block := rs.nextBlock(frames)
			e.processBlock(rs, block, 1)
			for i := 0; i < frames; i++ {
				for c := 0; c < rs.channels; c++ {
					out[i*rs.channels+c] = block[i]
				}
			}
		})
		if err != nil {
			return nil, faults.Runtime("open output stream", err)
		}
		rs.hw = stream
	default:
		return nil, faults.Runtimef("unsupported sink kind %q for source %q", route.Sink.Kind, route.Source.Kind)
	}
	return rs, nil
}

// startWorker launches the software-timed block loop, initially paused until
// activation.
func (e *Engine) startWorker(rs *runtimeStream) {
	rs.work = newWorker()
	rs.work.pause()
	go rs.work.run(rs.blockDuration(), func() {
		block := rs.nextBlock(rs.blocksize)
		e.processBlock(rs, block, 1)
	})
}

// processBlock runs the per-block pipeline in place: controls, ASR ingress
// conversion and dispatch, recording, metering.
func (e *Engine) processBlock(rs *runtimeStream, block []float32, channels int) {
	control := e.cp.GetControl(rs.streamID)
	if control.Muted {
		for i := range block {
			block[i] = 0
		}
	} else if control.GainDB != 0 {
		factor := float32(audiofmt.GainFactor(control.GainDB))
		for i := range block {
			block[i] = audiofmt.Clamp(block[i] * factor)
		}
	}

	if rs.needsASR {
		converted, err := audiofmt.ConvertASRIngress(block, rs.sampleRate, channels)
		if err == nil {
			rs.ring.push(converted)
			rs.dispatchCount++
			if rs.dispatchEvery > 0 && rs.dispatchCount%rs.dispatchEvery == 0 {
				result := adapters.SafeIngest(e.asr, converted, rs.asrModelHint)
				e.recordASRResult(rs.streamID, result)
			}
		}
	}

	if rs.file != nil {
		if _, err := rs.file.Write(audiofmt.Float32ToPCM16(block, 1)); err != nil {
			e.logger.Printf("[AudioEngine] stream %s recording write failed: %v", rs.streamID, err)
		}
	}

	mono := audiofmt.ToMono(block, channels)
	peak, rms, clipped := audiofmt.ComputeLevels(mono)
	e.cp.UpsertMeter(schema.MeterSnapshot{
		StreamID: rs.streamID,
		Peak:     peak,
		RMS:      rms,
		Clipped:  clipped,
	})
}

// PauseStream halts block delivery but keeps the bundle resumable. It is
// idempotent and reports whether the stream was bound at all.
func (e *Engine) PauseStream(streamID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.streams[streamID]
	if !ok {
		return false, nil
	}
	if rs.hw != nil {
		if err := rs.hw.Stop(); err != nil {
			return true, faults.Runtime("stop hardware stream", err)
		}
	}
	if rs.work != nil {
		rs.work.pause()
	}
	rs.active = false
	return true, nil
}

// StopStream releases the bundle entirely, including the stream's buffered
// ASR frames and adapter diagnostics. It reports whether the stream was
// bound.
func (e *Engine) StopStream(streamID string) bool {
	e.mu.Lock()
	rs, ok := e.streams[streamID]
	if ok {
		delete(e.streams, streamID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	e.dropDiagnostics(streamID)
	rs.release(e.logger)
	e.logger.Printf("[AudioEngine] stream %s released", streamID)
	return true
}

// ShutdownAll releases every bundle and marks the engine stopped.
func (e *Engine) ShutdownAll() {
	e.mu.Lock()
	streams := e.streams
	e.streams = make(map[string]*runtimeStream)
	e.running = false
	e.mu.Unlock()
	for id, rs := range streams {
		e.dropDiagnostics(id)
		rs.release(e.logger)
	}
	if len(streams) > 0 {
		e.logger.Printf("[AudioEngine] shutdown released %d streams", len(streams))
	}
}

func (e *Engine) dropDiagnostics(streamID string) {
	e.diagMu.Lock()
	delete(e.lastASR, streamID)
	delete(e.lastTTS, streamID)
	e.diagMu.Unlock()
}

// IsRunning reports the engine lifecycle flag.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartIfNeeded marks the engine running ahead of the first stream start.
func (e *Engine) StartIfNeeded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.running = true
		e.logger.Printf("[AudioEngine] started")
	}
}

// StopIfIdle marks the engine stopped when the control plane reports no
// running streams and no bundle is active.
func (e *Engine) StopIfIdle(anyRunning bool) {
	if anyRunning {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rs := range e.streams {
		if rs.active {
			return
		}
	}
	if e.running {
		e.running = false
		e.logger.Printf("[AudioEngine] idle, stopped")
	}
}

// BoundStreams returns the ids of all bound streams.
func (e *Engine) BoundStreams() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.streams))
	for id := range e.streams {
		out = append(out, id)
	}
	return out
}

// ReadASRFrames drains up to max converted frames from a stream's ASR ring.
func (e *Engine) ReadASRFrames(streamID string, max int) ([][]float32, error) {
	e.mu.Lock()
	rs, ok := e.streams[streamID]
	e.mu.Unlock()
	if !ok {
		return nil, faults.NotFound("stream", streamID)
	}
	if rs.ring == nil {
		return nil, nil
	}
	return rs.ring.drain(max), nil
}

// Diagnostics reports the most recent adapter results per stream.
type Diagnostics struct {
	ASR map[string]adapters.Result `json:"asr"`
	TTS map[string]adapters.Result `json:"tts"`
}

// Diagnostics returns a copy of the adapter result maps.
func (e *Engine) Diagnostics() Diagnostics {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	out := Diagnostics{
		ASR: make(map[string]adapters.Result, len(e.lastASR)),
		TTS: make(map[string]adapters.Result, len(e.lastTTS)),
	}
	for id, result := range e.lastASR {
		out.ASR[id] = result
	}
	for id, result := range e.lastTTS {
		out.TTS[id] = result
	}
	return out
}

func (e *Engine) recordASRResult(streamID string, result adapters.Result) {
	e.diagMu.Lock()
	e.lastASR[streamID] = result
	e.diagMu.Unlock()
}

func (e *Engine) recordTTSResult(streamID string, result adapters.Result) {
	e.diagMu.Lock()
	e.lastTTS[streamID] = result
	e.diagMu.Unlock()
}
