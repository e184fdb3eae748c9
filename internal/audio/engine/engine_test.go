package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/adapters"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/hardware"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/state"
	"github.com/Zyle0001/foundry-local-runtime/internal/audioio"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *hardware.MockBackend, *state.Store) {
	t.Helper()
	backend := hardware.NewMockBackend()
	store := state.New(true)
	eng := New(backend, store, opts...)
	t.Cleanup(eng.ShutdownAll)
	return eng, backend, store
}

func captureRoute(id string, sink string, cfg map[string]any) schema.RouteRecord {
	return schema.RouteRecord{
		RouteID: id,
		Source:  schema.Node{Kind: "mic", Config: cfg},
		Sink:    schema.Node{Kind: sink},
		Enabled: true,
	}
}

func TestStartStreamCaptureToASR(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := captureRoute("cap", "asr", map[string]any{
		"sample_rate": 16000.0,
		"channels":    1.0,
		"blocksize":   160.0,
	})
	store.UpsertRoute(route)

	if err := eng.StartStream("cap", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	streams := backend.Streams()
	if len(streams) != 1 || streams[0].Kind != "input" {
		t.Fatalf("expected one input stream, got %+v", streams)
	}

	block := make([]float32, 160)
	for i := range block {
		block[i] = 0.5
	}
	for i := 0; i < 8; i++ {
		streams[0].FeedInput(block)
	}

	frames, err := eng.ReadASRFrames("cap", 0)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if len(frames) != 8 {
		t.Fatalf("expected 8 frames, got %d", len(frames))
	}
	if len(frames[0]) != 160 {
		t.Fatalf("16 kHz mono input should pass through unchanged, got %d samples", len(frames[0]))
	}

	// Dispatch interval reached after 8 blocks.
	diag := eng.Diagnostics()
	result, ok := diag.ASR["cap"]
	if !ok {
		t.Fatal("expected ASR diagnostics after dispatch interval")
	}
	if result.Status != adapters.StatusNoModel {
		t.Fatalf("nil adapter should report no_model, got %s", result.Status)
	}

	// Meter published through the control plane.
	meters := store.ListMeters()
	if len(meters) != 1 || meters[0].Peak == 0 {
		t.Fatalf("expected a non-zero meter, got %+v", meters)
	}
}

func TestASRRingDropsOldest(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := captureRoute("cap", "asr", map[string]any{
		"sample_rate": 16000.0,
		"blocksize":   16.0,
	})
	store.UpsertRoute(route)
	if err := eng.StartStream("cap", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	mock := backend.Streams()[0]

	for i := 0; i < ringCapacity+10; i++ {
		mock.FeedInput(make([]float32, 16))
	}
	frames, err := eng.ReadASRFrames("cap", 0)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if len(frames) != ringCapacity {
		t.Fatalf("ring should cap at %d frames, got %d", ringCapacity, len(frames))
	}
}

func TestIngressProcessorEnablesASROnRecordingRoute(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "rec.wav")
	route := schema.RouteRecord{
		RouteID: "rec",
		Source: schema.Node{Kind: "mic", Config: map[string]any{
			"sample_rate": 16000.0,
			"blocksize":   160.0,
		}},
		Processors: []schema.Node{{
			Kind:   "asr_ingress",
			Config: map[string]any{"model_id": "whisper-small"},
		}},
		Sink:    schema.Node{Kind: "file", Config: map[string]any{"path": path}},
		Enabled: true,
	}
	store.UpsertRoute(route)
	if err := eng.StartStream("rec", route); err != nil {
		t.Fatalf("start: %v", err)
	}

	mock := backend.Streams()[0]
	block := make([]float32, 160)
	for i := range block {
		block[i] = 0.2
	}
	for i := 0; i < 8; i++ {
		mock.FeedInput(block)
	}

	frames, err := eng.ReadASRFrames("rec", 0)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if len(frames) != 8 {
		t.Fatalf("ingress processor should buffer converted frames, got %d", len(frames))
	}
	result, ok := eng.Diagnostics().ASR["rec"]
	if !ok {
		t.Fatal("expected ASR diagnostics from the ingress processor")
	}
	if result.ModelID != "whisper-small" {
		t.Fatalf("processor model_id should reach the adapter, got %q", result.ModelID)
	}
}

func TestIngressProcessorEnablesASROnDuplexRoute(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := schema.RouteRecord{
		RouteID:    "dup",
		Source:     schema.Node{Kind: "mic", Config: map[string]any{"blocksize": 64.0}},
		Processors: []schema.Node{{Kind: "asr_ingress"}},
		Sink:       schema.Node{Kind: "speakers"},
		Enabled:    true,
	}
	store.UpsertRoute(route)
	if err := eng.StartStream("dup", route); err != nil {
		t.Fatalf("start: %v", err)
	}

	mock := backend.Streams()[0]
	if mock.Kind != "duplex" {
		t.Fatalf("expected duplex stream, got %s", mock.Kind)
	}
	for i := 0; i < 4; i++ {
		mock.FeedDuplex(make([]float32, 64))
	}
	frames, err := eng.ReadASRFrames("dup", 0)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("duplex passthrough should still buffer ASR frames, got %d", len(frames))
	}
}

func TestStopStreamDropsDiagnostics(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t, WithTTSAdapter(adapters.NoopTTS{}))
	capture := captureRoute("cap", "asr", map[string]any{
		"sample_rate": 16000.0,
		"blocksize":   160.0,
	})
	store.UpsertRoute(capture)
	speech := schema.RouteRecord{
		RouteID: "say",
		Source:  schema.Node{Kind: "tts", Config: map[string]any{"text": "hi"}},
		Sink:    schema.Node{Kind: "speakers"},
		Enabled: true,
	}
	store.UpsertRoute(speech)

	if err := eng.StartStream("cap", capture); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	if err := eng.StartStream("say", speech); err != nil {
		t.Fatalf("start playback: %v", err)
	}
	for i := 0; i < 8; i++ {
		backend.Streams()[0].FeedInput(make([]float32, 160))
	}
	diag := eng.Diagnostics()
	if _, ok := diag.ASR["cap"]; !ok {
		t.Fatal("expected ASR diagnostics before stop")
	}
	if _, ok := diag.TTS["say"]; !ok {
		t.Fatal("expected TTS diagnostics before stop")
	}

	eng.StopStream("cap")
	eng.StopStream("say")
	diag = eng.Diagnostics()
	if _, ok := diag.ASR["cap"]; ok {
		t.Fatal("stop must drop the stream's ASR diagnostics")
	}
	if _, ok := diag.TTS["say"]; ok {
		t.Fatal("stop must drop the stream's TTS diagnostics")
	}
}

func TestStreamParamsFallBackToSinkConfig(t *testing.T) {
	t.Parallel()

	eng, _, store := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "tone.wav")
	route := schema.RouteRecord{
		RouteID: "tone",
		Source:  schema.Node{Kind: "test_tone"},
		Sink: schema.Node{Kind: "file", Config: map[string]any{
			"path":        path,
			"sample_rate": 8000.0,
		}},
		Enabled: true,
	}
	store.UpsertRoute(route)
	if err := eng.StartStream("tone", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !eng.StopStream("tone") {
		t.Fatal("expected bound stream")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	reader, err := audioio.NewReader(f)
	if err != nil {
		t.Fatalf("parse recording: %v", err)
	}
	defer reader.Close()
	if got := reader.Format().SampleRate; got != 8000 {
		t.Fatalf("sink config sample_rate should shape the stream, got %d", got)
	}
}

func TestCaptureToSpeakersOpensDuplex(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := captureRoute("dup", "speakers", map[string]any{"blocksize": 64.0})
	store.UpsertRoute(route)
	if err := eng.StartStream("dup", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	mock := backend.Streams()[0]
	if mock.Kind != "duplex" {
		t.Fatalf("expected duplex stream, got %s", mock.Kind)
	}

	in := make([]float32, 64)
	for i := range in {
		in[i] = 0.25
	}
	out := mock.FeedDuplex(in)
	if out[0] != 0.25 {
		t.Fatalf("duplex should pass processed input through, got %f", out[0])
	}

	// Muting zeroes the playback block.
	muted := true
	if _, _, err := store.SetControls(state.ControlsUpdate{StreamID: "dup", Muted: &muted}); err != nil {
		t.Fatalf("mute: %v", err)
	}
	out = mock.FeedDuplex(in)
	if out[0] != 0 {
		t.Fatalf("muted stream should emit silence, got %f", out[0])
	}
}

func TestGainAppliedToBlocks(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := captureRoute("dup", "speakers", map[string]any{"blocksize": 16.0})
	store.UpsertRoute(route)
	if err := eng.StartStream("dup", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	gain := 20.0 // 10x
	if _, _, err := store.SetControls(state.ControlsUpdate{StreamID: "dup", GainDB: &gain}); err != nil {
		t.Fatalf("gain: %v", err)
	}

	in := make([]float32, 16)
	in[0] = 0.05
	in[1] = 0.5
	out := backend.Streams()[0].FeedDuplex(in)
	if out[0] < 0.49 || out[0] > 0.51 {
		t.Fatalf("expected ~0.5 after 20 dB gain, got %f", out[0])
	}
	if out[1] != 1 {
		t.Fatalf("boosted samples must clamp at 1, got %f", out[1])
	}
}

func TestResumeReusesBundle(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := captureRoute("cap", "asr", nil)
	store.UpsertRoute(route)

	if err := eng.StartStream("cap", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ok, err := eng.PauseStream("cap"); !ok || err != nil {
		t.Fatalf("pause: ok=%v err=%v", ok, err)
	}
	if err := eng.StartStream("cap", route); err != nil {
		t.Fatalf("resume: %v", err)
	}

	streams := backend.Streams()
	if len(streams) != 1 {
		t.Fatalf("resume must not rebuild, got %d streams", len(streams))
	}
	if streams[0].Starts() != 2 {
		t.Fatalf("expected two hardware starts, got %d", streams[0].Starts())
	}
	if !streams[0].Running() {
		t.Fatal("stream should be running after resume")
	}
}

func TestPauseUnknownStreamIsIdempotent(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t)
	ok, err := eng.PauseStream("ghost")
	if ok || err != nil {
		t.Fatalf("pausing an unbound stream should be a no-op, got ok=%v err=%v", ok, err)
	}
	if eng.StopStream("ghost") {
		t.Fatal("stopping an unbound stream should report false")
	}
}

func TestStartStreamBuildFailure(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	backend.FailOpen = errors.New("device busy")
	route := captureRoute("cap", "asr", nil)
	store.UpsertRoute(route)

	err := eng.StartStream("cap", route)
	if !faults.IsRuntime(err) {
		t.Fatalf("expected runtime fault, got %v", err)
	}
	if len(eng.BoundStreams()) != 0 {
		t.Fatal("failed build must not leave a bundle behind")
	}
}

func TestUnsupportedSinkKind(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t)
	route := schema.RouteRecord{
		RouteID: "bad",
		Source:  schema.Node{Kind: "test_tone"},
		Sink:    schema.Node{Kind: "headphones"},
	}
	err := eng.StartStream("bad", route)
	if !faults.IsRuntime(err) {
		t.Fatalf("expected runtime fault, got %v", err)
	}
}

func TestTestToneToFileWritesRecording(t *testing.T) {
	t.Parallel()

	eng, _, store := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "tone.wav")
	route := schema.RouteRecord{
		RouteID: "tone",
		Source: schema.Node{Kind: "test_tone", Config: map[string]any{
			"sample_rate": 16000.0,
			"blocksize":   160.0,
		}},
		Sink:    schema.Node{Kind: "file", Config: map[string]any{"path": path}},
		Enabled: true,
	}
	store.UpsertRoute(route)

	if err := eng.StartStream("tone", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	// 160-sample blocks at 16 kHz tick every 10ms.
	time.Sleep(100 * time.Millisecond)
	if !eng.StopStream("tone") {
		t.Fatal("expected bound stream")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	reader, err := audioio.NewReader(f)
	if err != nil {
		t.Fatalf("parse recording: %v", err)
	}
	defer reader.Close()
	format := reader.Format()
	if format.SampleRate != 16000 || format.Channels != 1 || format.BitDepth != 16 {
		t.Fatalf("unexpected recording format: %+v", format)
	}
	buf := make([]byte, 320)
	if _, err := reader.Read(buf); err != nil {
		t.Fatalf("read recording: %v", err)
	}
}

func TestFileInputRequiresPath(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t)
	route := schema.RouteRecord{
		RouteID: "f",
		Source:  schema.Node{Kind: "file_input"},
		Sink:    schema.Node{Kind: "speakers"},
	}
	err := eng.StartStream("f", route)
	if !faults.IsValidation(err) {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestTTSFallbackSignalAndDiagnostics(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t, WithTTSAdapter(adapters.NoopTTS{}))
	route := schema.RouteRecord{
		RouteID: "say",
		Source:  schema.Node{Kind: "tts", Name: "greeting", Config: map[string]any{"text": "hi there"}},
		Sink:    schema.Node{Kind: "speakers"},
		Enabled: true,
	}
	store.UpsertRoute(route)
	if err := eng.StartStream("say", route); err != nil {
		t.Fatalf("start: %v", err)
	}

	diag := eng.Diagnostics()
	result, ok := diag.TTS["say"]
	if !ok {
		t.Fatal("expected TTS diagnostics")
	}
	if result.Status != adapters.StatusNoAudioOutput {
		t.Fatalf("noop adapter should report no_audio_output, got %s", result.Status)
	}
	if result.Diagnostics["text"] != "hi there" {
		t.Fatalf("config text should win the prompt fallback, got %q", result.Diagnostics["text"])
	}

	// A synthesis miss falls back to the default tone so the stream still
	// plays something audible.
	out := backend.Streams()[0].PullOutput(64)
	audible := false
	for _, v := range out {
		if v != 0 {
			audible = true
			break
		}
	}
	if !audible {
		t.Fatal("expected the tone fallback, got silence")
	}
}

func TestTTSMissUsesSamplesLiteral(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t, WithTTSAdapter(adapters.NoopTTS{}))
	route := schema.RouteRecord{
		RouteID: "say",
		Source: schema.Node{Kind: "tts", Config: map[string]any{
			"text":    "hi",
			"samples": []any{0.1, 0.2},
		}},
		Sink:    schema.Node{Kind: "speakers"},
		Enabled: true,
	}
	store.UpsertRoute(route)
	if err := eng.StartStream("say", route); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Synthesis is still attempted (and its result recorded) before the
	// literal samples take over.
	if _, ok := eng.Diagnostics().TTS["say"]; !ok {
		t.Fatal("expected TTS diagnostics despite the samples literal")
	}
	out := backend.Streams()[0].PullOutput(2)
	if out[0] != 0.1 || out[1] != 0.2 {
		t.Fatalf("expected the literal samples, got %v", out)
	}
}

func TestTTSPromptFallbackChain(t *testing.T) {
	t.Parallel()

	route := schema.RouteRecord{Source: schema.Node{Kind: "tts", Name: "greeting"}}
	if got := ttsPromptFor(route); got != "greeting" {
		t.Fatalf("expected node name fallback, got %q", got)
	}
	route.Source.Name = ""
	if got := ttsPromptFor(route); got != "hello" {
		t.Fatalf("expected fixed fallback, got %q", got)
	}
}

func TestOutputSignalLoops(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := schema.RouteRecord{
		RouteID: "tone",
		Source: schema.Node{Kind: "test_tone", Config: map[string]any{
			"sample_rate":      16000.0,
			"tone_hz":          100.0,
			"duration_seconds": 0.01, // 160 samples
		}},
		Sink:    schema.Node{Kind: "speakers"},
		Enabled: true,
	}
	store.UpsertRoute(route)
	if err := eng.StartStream("tone", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	mock := backend.Streams()[0]
	first := mock.PullOutput(160)
	second := mock.PullOutput(160)
	if first[0] != second[0] || first[80] != second[80] {
		t.Fatal("signal should wrap and repeat after the buffer ends")
	}
}

func TestShutdownAllReleasesStreams(t *testing.T) {
	t.Parallel()

	eng, backend, store := newTestEngine(t)
	route := captureRoute("cap", "asr", nil)
	store.UpsertRoute(route)
	if err := eng.StartStream("cap", route); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !eng.IsRunning() {
		t.Fatal("engine should be running after a start")
	}
	eng.ShutdownAll()
	if eng.IsRunning() {
		t.Fatal("engine should stop on shutdown")
	}
	if len(eng.BoundStreams()) != 0 {
		t.Fatal("shutdown should release all bundles")
	}
	if !backend.Streams()[0].Closed() {
		t.Fatal("hardware stream should be closed")
	}
}

func TestStopIfIdle(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t)
	eng.StartIfNeeded()
	eng.StopIfIdle(true)
	if !eng.IsRunning() {
		t.Fatal("engine must stay up while streams are running")
	}
	eng.StopIfIdle(false)
	if eng.IsRunning() {
		t.Fatal("engine should stop when idle")
	}
}

func TestReadASRFramesUnknownStream(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t)
	if _, err := eng.ReadASRFrames("ghost", 4); !faults.IsNotFound(err) {
		t.Fatalf("expected not-found fault, got %v", err)
	}
}
