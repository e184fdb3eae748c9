package engine

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/audiofmt"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/hardware"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
	"github.com/Zyle0001/foundry-local-runtime/internal/audioio"
)

const (
	defaultSampleRate    = 16000
	defaultChannels      = 1
	defaultBlocksize     = 1024
	defaultDispatchEvery = 8
	ringCapacity         = 64
	joinTimeout          = 1500 * time.Millisecond
	defaultFileSinkDir   = "audio_outputs"
)

// runtimeStream is the per-stream resource bundle: the hardware handle or
// software worker, an optional recording sink, and the ASR dispatch state.
// Fields are fixed at build time; the block pipeline runs on a single
// goroutine per bundle (hardware callback or worker), so only the ring and
// the engine diagnostics maps need their own locks.
type runtimeStream struct {
	streamID string
	route    schema.RouteRecord

	sampleRate int
	channels   int
	blocksize  int

	hw   hardware.Stream
	work *worker
	file *audioio.Writer

	// Rendered buffer for software sources; cursor wraps so playback loops.
	signal []float32
	cursor int

	needsASR      bool
	asrModelHint  string
	dispatchEvery int
	dispatchCount int
	ring          *ringBuffer

	active bool
}

// nextBlock copies n samples from the signal buffer, wrapping at the end.
func (rs *runtimeStream) nextBlock(n int) []float32 {
	out := make([]float32, n)
	if len(rs.signal) == 0 {
		return out
	}
	for i := range out {
		out[i] = rs.signal[rs.cursor]
		rs.cursor++
		if rs.cursor >= len(rs.signal) {
			rs.cursor = 0
		}
	}
	return out
}

func (rs *runtimeStream) blockDuration() time.Duration {
	return audiofmt.DurationFromFrames(rs.sampleRate, rs.blocksize)
}

// release tears the bundle down: join the worker, close the hardware handle,
// finalize the recording file.
func (rs *runtimeStream) release(logger *log.Logger) {
	if rs.work != nil {
		if !rs.work.stopAndJoin(joinTimeout) {
			logger.Printf("[AudioEngine] stream %s worker did not stop within %s", rs.streamID, joinTimeout)
		}
	}
	if rs.hw != nil {
		if err := rs.hw.Stop(); err != nil {
			logger.Printf("[AudioEngine] stream %s hardware stop failed: %v", rs.streamID, err)
		}
		if err := rs.hw.Close(); err != nil {
			logger.Printf("[AudioEngine] stream %s hardware close failed: %v", rs.streamID, err)
		}
	}
	if rs.file != nil {
		if err := rs.file.Close(); err != nil {
			logger.Printf("[AudioEngine] stream %s recording close failed: %v", rs.streamID, err)
		}
	}
}

// fileSinkPath resolves the recording path for a file sink, defaulting to
// audio_outputs/<stream_id>.wav.
func fileSinkPath(sink schema.Node, streamID string) string {
	if path := configString(sink.Config, "path", ""); path != "" {
		return path
	}
	return filepath.Join(defaultFileSinkDir, streamID+".wav")
}

// openFileWriter creates the recording file and WAV writer, making parent
// directories as needed.
func openFileWriter(path string, format audiofmt.AudioFormat) (*audioio.Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	writer, err := audioio.NewWriter(f, format)
	if err != nil {
		f.Close()
		return nil, err
	}
	return writer, nil
}

func isCaptureSource(kind string) bool {
	switch schema.SourceKind(kind) {
	case schema.SourceMic, schema.SourceLoopback:
		return true
	default:
		return false
	}
}

func isDeviceSink(kind string) bool {
	switch schema.SinkKind(kind) {
	case schema.SinkSpeakers, schema.SinkVirtualOutput:
		return true
	default:
		return false
	}
}

// routeHasASRIngress reports whether the route feeds speech recognition:
// either directly through an asr sink or via an asr_ingress processor stage.
func routeHasASRIngress(route schema.RouteRecord) bool {
	if schema.SinkKind(route.Sink.Kind) == schema.SinkASR {
		return true
	}
	for _, proc := range route.Processors {
		if schema.ProcessorKind(proc.Kind) == schema.ProcessorASRIngress {
			return true
		}
	}
	return false
}

// resolveASRModelHint prefers the sink's model_id, then the first asr_ingress
// processor carrying one.
func resolveASRModelHint(route schema.RouteRecord) string {
	if hint := configString(route.Sink.Config, "model_id", ""); hint != "" {
		return hint
	}
	for _, proc := range route.Processors {
		if schema.ProcessorKind(proc.Kind) != schema.ProcessorASRIngress {
			continue
		}
		if hint := configString(proc.Config, "model_id", ""); hint != "" {
			return hint
		}
	}
	return ""
}
