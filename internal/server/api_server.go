// Package server exposes the audio routing control plane over HTTP: module
// toggle, device enumeration, route CRUD, stream lifecycle, controls, and a
// websocket meter feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/control"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/engine"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/hardware"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/state"
	configstore "github.com/Zyle0001/foundry-local-runtime/internal/config/store"
	"github.com/Zyle0001/foundry-local-runtime/internal/eventbus"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// APIServer serves the audio control-plane HTTP API.
type APIServer struct {
	logger      *log.Logger
	coordinator *control.Coordinator
	store       *state.Store
	engine      *engine.Engine
	backend     hardware.Backend
	bus         *eventbus.Bus
	cfg         *configstore.Store

	binding    string
	httpServer *http.Server
	listener   net.Listener
}

// Option customises the API server.
type Option func(*APIServer)

// WithLogger overrides the server logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *APIServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBinding sets the listen address (host:port).
func WithBinding(binding string) Option {
	return func(s *APIServer) {
		if binding != "" {
			s.binding = binding
		}
	}
}

// WithConfigStore attaches the persistence store; settings and routes are
// saved through it when present.
func WithConfigStore(cfg *configstore.Store) Option {
	return func(s *APIServer) {
		s.cfg = cfg
	}
}

// WithBus attaches the event bus backing the websocket meter feed.
func WithBus(bus *eventbus.Bus) Option {
	return func(s *APIServer) {
		s.bus = bus
	}
}

// New constructs the API server over the control plane components.
func New(coordinator *control.Coordinator, store *state.Store, eng *engine.Engine, backend hardware.Backend, opts ...Option) *APIServer {
	s := &APIServer{
		logger:      log.Default(),
		coordinator: coordinator,
		store:       store,
		engine:      eng,
		backend:     backend,
		binding:     "127.0.0.1:9560",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *APIServer) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/module", s.handleModule)
	mux.HandleFunc("/audio/devices", s.handleDevices)
	mux.HandleFunc("/audio/defaults", s.handleDefaults)
	mux.HandleFunc("/audio/policy", s.handlePolicy)
	mux.HandleFunc("/audio/state", s.handleState)
	mux.HandleFunc("/audio/routes", s.handleRoutes)
	mux.HandleFunc("/audio/routes/", s.handleRouteByID)
	mux.HandleFunc("/audio/streams/", s.handleStreamOp)
	mux.HandleFunc("/audio/controls", s.handleControls)
	mux.HandleFunc("/audio/meters", s.handleMeters)
	mux.HandleFunc("/audio/meters/ws", s.handleMetersWS)
	return mux
}

// Handler returns the HTTP handler, primarily for tests.
func (s *APIServer) Handler() http.Handler {
	return s.buildMux()
}

// Start begins serving on the configured binding. It blocks until the server
// stops.
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", s.binding)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.binding, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Printf("[APIServer] listening on %s", listener.Addr())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *APIServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the HTTP server gracefully.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
