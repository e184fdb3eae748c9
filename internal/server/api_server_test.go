package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/control"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/engine"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/hardware"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/state"
	configstore "github.com/Zyle0001/foundry-local-runtime/internal/config/store"
	"github.com/Zyle0001/foundry-local-runtime/internal/eventbus"
)

type testHarness struct {
	server  *APIServer
	store   *state.Store
	backend *hardware.MockBackend
	http    *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	backend := hardware.NewMockBackend()
	store := state.New(true)
	eng := engine.New(backend, store)
	t.Cleanup(eng.ShutdownAll)
	coordinator := control.New(store, eng)

	apiServer := New(coordinator, store, eng, backend, opts...)
	ts := httptest.NewServer(apiServer.Handler())
	t.Cleanup(ts.Close)
	return &testHarness{server: apiServer, store: store, backend: backend, http: ts}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (h *testHarness) upsertRoute(t *testing.T, id, source, sink string) {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/audio/routes", schema.RouteUpsertRequest{
		RouteID: id,
		Source:  schema.Node{Kind: source},
		Sink:    schema.Node{Kind: sink},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert route: status %d body %s", resp.StatusCode, body)
	}
}

func TestModuleToggle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/audio/module", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var module moduleResponse
	if err := json.Unmarshal(body, &module); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !module.Enabled {
		t.Fatal("module should start enabled")
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/module", map[string]any{"enabled": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if h.store.AudioEnabled() {
		t.Fatal("module should be disabled")
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/module", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing enabled should be 400, got %d", resp.StatusCode)
	}
}

func TestDisabledModuleRejectsStreamOps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upsertRoute(t, "cap", "mic", "asr")
	h.do(t, http.MethodPost, "/audio/module", map[string]any{"enabled": false})

	resp, body := h.do(t, http.MethodPost, "/audio/streams/cap/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "disabled") {
		t.Fatalf("error should mention disabled module: %s", body)
	}
}

func TestRouteLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upsertRoute(t, "r1", "mic", "asr")

	resp, body := h.do(t, http.MethodGet, "/audio/routes", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var routes []schema.RouteRecord
	if err := json.Unmarshal(body, &routes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(routes) != 1 || routes[0].RouteID != "r1" {
		t.Fatalf("unexpected routes: %+v", routes)
	}

	resp, _ = h.do(t, http.MethodGet, "/audio/routes/r1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get route: status %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodDelete, "/audio/routes/r1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodDelete, "/audio/routes/r1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete should be 404, got %d", resp.StatusCode)
	}
}

func TestRouteValidationErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, body := h.do(t, http.MethodPost, "/audio/routes", schema.RouteUpsertRequest{
		Source: schema.Node{Kind: "microphone"},
		Sink:   schema.Node{Kind: "asr"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "invalid source kind") {
		t.Fatalf("error should name the bad kind: %s", body)
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/routes", map[string]any{"name": "no nodes"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing nodes should be 400, got %d", resp.StatusCode)
	}
}

func TestPolicyEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/audio/policy", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var policy policyResponse
	if err := json.Unmarshal(body, &policy); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if policy.Policy != schema.PolicyBargeInEnabled {
		t.Fatalf("expected barge-in default, got %s", policy.Policy)
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/policy", map[string]any{"policy": "allow_overlap"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodPost, "/audio/policy", map[string]any{"policy": "half_duplex"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid policy should be 400, got %d body %s", resp.StatusCode, body)
	}
}

func TestDefaultsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/audio/defaults", map[string]any{"input_device_id": "0", "output_device_id": "1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	in, out := h.store.Defaults()
	if in != "0" || out != "1" {
		t.Fatalf("unexpected defaults: %q/%q", in, out)
	}

	resp, body := h.do(t, http.MethodPost, "/audio/defaults", map[string]any{"input_device_id": "99"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown device should be 400, got %d body %s", resp.StatusCode, body)
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/defaults", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty update should be 400, got %d", resp.StatusCode)
	}
}

func TestStreamOps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upsertRoute(t, "cap", "mic", "asr")

	resp, body := h.do(t, http.MethodPost, "/audio/streams/cap/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d body %s", resp.StatusCode, body)
	}
	var result control.StartResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Stream.State != schema.StreamRunning || !result.EngineRunning {
		t.Fatalf("unexpected start result: %+v", result)
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/streams/cap/pause", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause: status %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/audio/streams/cap/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/streams/ghost/start", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown stream should be 404, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/audio/streams/cap/reverse", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown op should be 404, got %d", resp.StatusCode)
	}
}

func TestStreamStartPolicyConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.do(t, http.MethodPost, "/audio/policy", map[string]any{"policy": "capture_gated_by_playback"})
	h.upsertRoute(t, "cap", "mic", "asr")
	h.upsertRoute(t, "play", "test_tone", "speakers")

	resp, _ := h.do(t, http.MethodPost, "/audio/streams/play/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start playback: status %d", resp.StatusCode)
	}
	resp, body := h.do(t, http.MethodPost, "/audio/streams/cap/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("gated start should be 409, got %d body %s", resp.StatusCode, body)
	}
}

func TestControlsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upsertRoute(t, "cap", "mic", "asr")

	resp, body := h.do(t, http.MethodPost, "/audio/controls", map[string]any{"stream_id": "cap", "gain_db": -6.0, "muted": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	var controls controlsResponse
	if err := json.Unmarshal(body, &controls); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if controls.Control.GainDB != -6.0 || !controls.Control.Muted {
		t.Fatalf("unexpected controls: %+v", controls.Control)
	}

	resp, _ = h.do(t, http.MethodPost, "/audio/controls", map[string]any{"stream_id": "cap"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty update should be 400, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/audio/controls", map[string]any{"gain_db": 1.0})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("gain without stream_id should be 400, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/audio/controls", map[string]any{"stream_id": "ghost", "muted": true})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown stream should be 404, got %d", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodPost, "/audio/controls", map[string]any{"push_to_talk": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push-to-talk: status %d body %s", resp.StatusCode, body)
	}
	if !h.store.PushToTalk() {
		t.Fatal("push-to-talk should be set")
	}
}

func TestStateAggregate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upsertRoute(t, "cap", "mic", "asr")

	resp, body := h.do(t, http.MethodGet, "/audio/state", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"routes", "streams", "controls", "meters", "duplex_policy", "engine_running", "diagnostics", "audio_enabled"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("state payload missing %q: %s", key, body)
		}
	}
}

func TestDevicesEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/audio/devices", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var inv hardware.Inventory
	if err := json.Unmarshal(body, &inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Backend != "mock" || len(inv.InputDevices) != 1 {
		t.Fatalf("unexpected inventory: %+v", inv)
	}
}

func TestMetersEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.upsertRoute(t, "cap", "mic", "asr")
	h.store.UpsertMeter(schema.MeterSnapshot{StreamID: "cap", Peak: 0.4, RMS: 0.2})

	resp, body := h.do(t, http.MethodGet, "/audio/meters", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var meters []schema.MeterSnapshot
	if err := json.Unmarshal(body, &meters); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(meters) != 1 || meters[0].Peak != 0.4 {
		t.Fatalf("unexpected meters: %+v", meters)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/audio/module"},
		{http.MethodPost, "/audio/devices"},
		{http.MethodGet, "/audio/controls"},
		{http.MethodPut, "/audio/routes"},
	} {
		resp, _ := h.do(t, tc.method, tc.path, nil)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestRoutePersistence(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "config.db")
	cfg, err := configstore.Open(configstore.Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open config store: %v", err)
	}
	defer cfg.Close()

	h := newHarness(t, WithConfigStore(cfg))
	h.upsertRoute(t, "r1", "mic", "asr")

	routes, err := cfg.ListRoutes(context.Background())
	if err != nil {
		t.Fatalf("list persisted routes: %v", err)
	}
	if len(routes) != 1 || routes[0].RouteID != "r1" {
		t.Fatalf("route should be persisted, got %+v", routes)
	}

	resp, _ := h.do(t, http.MethodDelete, "/audio/routes/r1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	routes, _ = cfg.ListRoutes(context.Background())
	if len(routes) != 0 {
		t.Fatalf("persisted route should be removed, got %d", len(routes))
	}

	// Settings persist on policy change.
	resp, _ = h.do(t, http.MethodPost, "/audio/policy", map[string]any{"policy": "allow_overlap"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("policy: status %d", resp.StatusCode)
	}
	settings, err := cfg.LoadAudioSettings(context.Background())
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.DuplexPolicy != schema.PolicyAllowOverlap {
		t.Fatalf("policy should be persisted, got %s", settings.DuplexPolicy)
	}
}

func TestMetersWebsocketFeed(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	backend := hardware.NewMockBackend()
	store := state.New(true, state.WithBus(bus))
	eng := engine.New(backend, store)
	t.Cleanup(eng.ShutdownAll)
	coordinator := control.New(store, eng)
	apiServer := New(coordinator, store, eng, backend, WithBus(bus))
	ts := httptest.NewServer(apiServer.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/audio/meters/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The current snapshot arrives first; once it has been read the
	// subscription behind the feed is live.
	var initial []schema.MeterSnapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(initial) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", initial)
	}

	if _, err := coordinator.UpsertRoute(schema.RouteUpsertRequest{
		RouteID: "cap",
		Source:  schema.Node{Kind: "mic"},
		Sink:    schema.Node{Kind: "asr"},
	}); err != nil {
		t.Fatalf("upsert route: %v", err)
	}
	store.UpsertMeter(schema.MeterSnapshot{StreamID: "cap", Peak: 0.3, RMS: 0.1})

	var meter schema.MeterSnapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&meter); err != nil {
		t.Fatalf("read meter update: %v", err)
	}
	if meter.StreamID != "cap" || meter.Peak != 0.3 {
		t.Fatalf("unexpected meter: %+v", meter)
	}
}

func TestMetersWebsocketRequiresBus(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, _ := h.do(t, http.MethodGet, "/audio/meters/ws", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a bus, got %d", resp.StatusCode)
	}
}
