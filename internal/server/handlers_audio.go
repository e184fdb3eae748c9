package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/hardware"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/schema"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/state"
	configstore "github.com/Zyle0001/foundry-local-runtime/internal/config/store"
)

const persistTimeout = 5 * time.Second

type moduleResponse struct {
	Enabled       bool `json:"enabled"`
	EngineRunning bool `json:"engine_running"`
}

type moduleUpdateRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *APIServer) handleModule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, moduleResponse{
			Enabled:       s.store.AudioEnabled(),
			EngineRunning: s.engine.IsRunning(),
		})
	case http.MethodPost:
		var req moduleUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "enabled field is required")
			return
		}
		s.coordinator.SetEnabled(*req.Enabled)
		s.persistSettings(r.Context())
		writeJSON(w, http.StatusOK, moduleResponse{
			Enabled:       s.store.AudioEnabled(),
			EngineRunning: s.engine.IsRunning(),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.backend.Enumerate())
}

type defaultsRequest struct {
	InputDeviceID  *string `json:"input_device_id"`
	OutputDeviceID *string `json:"output_device_id"`
}

type defaultsResponse struct {
	InputDeviceID  string `json:"input_device_id"`
	OutputDeviceID string `json:"output_device_id"`
}

func (s *APIServer) handleDefaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req defaultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.InputDeviceID == nil && req.OutputDeviceID == nil {
		writeError(w, http.StatusBadRequest, "at least one of input_device_id or output_device_id is required")
		return
	}

	// Device ids are only checked against the inventory when the backend
	// could enumerate anything; a degraded backend accepts any id so
	// configuration survives missing hardware.
	inv := s.backend.Enumerate()
	if req.InputDeviceID != nil && *req.InputDeviceID != "" && len(inv.InputDevices) > 0 {
		if !deviceKnown(inv.InputDevices, *req.InputDeviceID) {
			writeError(w, http.StatusBadRequest, "unknown input device id "+*req.InputDeviceID)
			return
		}
	}
	if req.OutputDeviceID != nil && *req.OutputDeviceID != "" && len(inv.OutputDevices) > 0 {
		if !deviceKnown(inv.OutputDevices, *req.OutputDeviceID) {
			writeError(w, http.StatusBadRequest, "unknown output device id "+*req.OutputDeviceID)
			return
		}
	}

	var inputID, outputID string
	if req.InputDeviceID != nil {
		inputID = *req.InputDeviceID
	}
	if req.OutputDeviceID != nil {
		outputID = *req.OutputDeviceID
	}
	s.store.SetDefaults(inputID, outputID, req.InputDeviceID != nil, req.OutputDeviceID != nil)
	s.persistSettings(r.Context())

	currentIn, currentOut := s.store.Defaults()
	writeJSON(w, http.StatusOK, defaultsResponse{InputDeviceID: currentIn, OutputDeviceID: currentOut})
}

type policyResponse struct {
	Policy schema.DuplexPolicy `json:"policy"`
}

type policyUpdateRequest struct {
	Policy string `json:"policy" validate:"required"`
}

func (s *APIServer) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, policyResponse{Policy: s.store.DuplexPolicy()})
	case http.MethodPost:
		var req policyUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "policy field is required")
			return
		}
		if err := s.store.SetDuplexPolicy(schema.DuplexPolicy(req.Policy)); err != nil {
			writeFault(w, err)
			return
		}
		s.persistSettings(r.Context())
		writeJSON(w, http.StatusOK, policyResponse{Policy: s.store.DuplexPolicy()})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type stateResponse struct {
	schema.ModuleState
	EngineRunning bool `json:"engine_running"`
	Diagnostics   any  `json:"diagnostics"`
}

func (s *APIServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		ModuleState:   s.store.Snapshot(),
		EngineRunning: s.engine.IsRunning(),
		Diagnostics:   s.engine.Diagnostics(),
	})
}

func (s *APIServer) handleRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.ListRoutes())
	case http.MethodPost:
		var req schema.RouteUpsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "source and sink nodes are required")
			return
		}
		record, err := s.coordinator.UpsertRoute(req)
		if err != nil {
			writeFault(w, err)
			return
		}
		s.persistRoute(r.Context(), record)
		writeJSON(w, http.StatusOK, record)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) handleRouteByID(w http.ResponseWriter, r *http.Request) {
	routeID := strings.TrimPrefix(r.URL.Path, "/audio/routes/")
	if routeID == "" || strings.Contains(routeID, "/") {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		route, err := s.store.GetRoute(routeID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, route)
	case http.MethodDelete:
		if err := s.coordinator.DeleteRoute(routeID); err != nil {
			writeFault(w, err)
			return
		}
		s.unpersistRoute(r.Context(), routeID)
		writeJSON(w, http.StatusOK, map[string]string{"deleted": routeID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) handleStreamOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/audio/streams/")
	streamID, op, ok := strings.Cut(rest, "/")
	if !ok || streamID == "" {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	if !s.store.AudioEnabled() {
		writeError(w, http.StatusConflict, "audio module is disabled")
		return
	}

	switch op {
	case "start":
		result, err := s.coordinator.Start(streamID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "pause":
		stream, err := s.coordinator.Pause(streamID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stream)
	case "stop":
		stream, err := s.coordinator.Stop(streamID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stream)
	default:
		writeError(w, http.StatusNotFound, "unknown stream operation "+op)
	}
}

type controlsRequest struct {
	StreamID   string   `json:"stream_id"`
	GainDB     *float64 `json:"gain_db"`
	Muted      *bool    `json:"muted"`
	PushToTalk *bool    `json:"push_to_talk"`
}

type controlsResponse struct {
	Control    schema.ControlRecord `json:"control"`
	PushToTalk bool                 `json:"push_to_talk"`
}

func (s *APIServer) handleControls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req controlsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GainDB == nil && req.Muted == nil && req.PushToTalk == nil {
		writeError(w, http.StatusBadRequest, "at least one of gain_db, muted, or push_to_talk is required")
		return
	}
	if (req.GainDB != nil || req.Muted != nil) && strings.TrimSpace(req.StreamID) == "" {
		writeError(w, http.StatusBadRequest, "stream_id is required for gain or mute updates")
		return
	}

	record, pushToTalk, err := s.store.SetControls(state.ControlsUpdate{
		StreamID:   strings.TrimSpace(req.StreamID),
		GainDB:     req.GainDB,
		Muted:      req.Muted,
		PushToTalk: req.PushToTalk,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	if req.PushToTalk != nil {
		s.persistSettings(r.Context())
	}
	writeJSON(w, http.StatusOK, controlsResponse{Control: record, PushToTalk: pushToTalk})
}

func (s *APIServer) handleMeters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.store.ListMeters())
}

func deviceKnown(devices []hardware.Device, id string) bool {
	for _, dev := range devices {
		if dev.ID == id {
			return true
		}
	}
	return false
}

// persistSettings writes the current module settings through the config
// store when persistence is wired.
func (s *APIServer) persistSettings(ctx context.Context) {
	if s.cfg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	snap := s.store.Snapshot()
	err := s.cfg.SaveAudioSettings(ctx, configstore.AudioSettings{
		AudioEnabled:        snap.AudioEnabled,
		DefaultInputDevice:  snap.DefaultInputDeviceID,
		DefaultOutputDevice: snap.DefaultOutputDeviceID,
		DuplexPolicy:        snap.DuplexPolicy,
		PushToTalk:          snap.PushToTalk,
	})
	if err != nil {
		s.logger.Printf("[APIServer] persist audio settings failed: %v", err)
	}
}

func (s *APIServer) persistRoute(ctx context.Context, route schema.RouteRecord) {
	if s.cfg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.cfg.SaveRoute(ctx, route); err != nil {
		s.logger.Printf("[APIServer] persist route %s failed: %v", route.RouteID, err)
	}
}

func (s *APIServer) unpersistRoute(ctx context.Context, routeID string) {
	if s.cfg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.cfg.DeleteRoute(ctx, routeID); err != nil {
		s.logger.Printf("[APIServer] delete persisted route %s failed: %v", routeID, err)
	}
}
