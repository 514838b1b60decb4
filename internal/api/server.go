package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"climatesync/internal/climate"

	"go.uber.org/zap"
)

// Controller is the part of the climate hub the API exposes.
type Controller interface {
	Connected() bool
	Len() int
	Entities() []*climate.State
	Entity(entityID string) (*climate.State, bool)
	SetMode(entityID, mode string) error
	SetFanMode(entityID, mode string) error
	SetPresetMode(entityID, preset string) error
	SetSingleSetpoint(entityID string, value float64) error
	SetHeatCoolRange(entityID string, heat, cool float64) error
	TurnOn(entityID string) error
	TurnOff(entityID string) error
}

// Server provides HTTP API endpoints for the climate hub
type Server struct {
	hub    Controller
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a new API server. metrics, when non-nil, is served on /metrics.
func NewServer(hub Controller, metrics http.Handler, logger *zap.Logger, port int) *Server {
	s := &Server{
		hub:    hub,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("GET /api/climates", s.handleListClimates)
	mux.HandleFunc("GET /api/climates/{id}", s.handleGetClimate)
	mux.HandleFunc("POST /api/climates/{id}/command", s.handleCommand)
	mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ClimatesResponse is the body of GET /api/climates
type ClimatesResponse struct {
	Connected bool             `json:"connected"`
	Climates  []*climate.State `json:"climates"`
}

// CommandRequest is the body of POST /api/climates/{id}/command. Which
// fields are required depends on Action.
type CommandRequest struct {
	Action      string   `json:"action"`
	Mode        string   `json:"mode,omitempty"`
	FanMode     string   `json:"fan_mode,omitempty"`
	Preset      string   `json:"preset,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Heat        *float64 `json:"heat,omitempty"`
	Cool        *float64 `json:"cool,omitempty"`
}

var errBadCommand = errors.New("bad command")

func (s *Server) handleListClimates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ClimatesResponse{
		Connected: s.hub.Connected(),
		Climates:  s.hub.Entities(),
	})
}

func (s *Server) handleGetClimate(w http.ResponseWriter, r *http.Request) {
	state, ok := s.hub.Entity(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown climate entity")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, ok := s.hub.Entity(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown climate entity")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.dispatch(state.EntityID, req)
	switch {
	case errors.Is(err, errBadCommand):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Warn("Command failed",
			zap.String("entity_id", state.EntityID),
			zap.String("action", req.Action),
			zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.Debug("Command accepted",
		zap.String("entity_id", state.EntityID),
		zap.String("action", req.Action),
		zap.String("remote_addr", r.RemoteAddr))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) dispatch(entityID string, req CommandRequest) error {
	switch strings.ToLower(req.Action) {
	case "mode":
		if req.Mode == "" {
			return fmt.Errorf("%w: mode is required", errBadCommand)
		}
		return s.hub.SetMode(entityID, req.Mode)
	case "fan":
		if req.FanMode == "" {
			return fmt.Errorf("%w: fan_mode is required", errBadCommand)
		}
		return s.hub.SetFanMode(entityID, req.FanMode)
	case "preset":
		if req.Preset == "" {
			return fmt.Errorf("%w: preset is required", errBadCommand)
		}
		return s.hub.SetPresetMode(entityID, req.Preset)
	case "temperature":
		if req.Temperature == nil {
			return fmt.Errorf("%w: temperature is required", errBadCommand)
		}
		return s.hub.SetSingleSetpoint(entityID, *req.Temperature)
	case "range":
		if req.Heat == nil || req.Cool == nil {
			return fmt.Errorf("%w: heat and cool are required", errBadCommand)
		}
		return s.hub.SetHeatCoolRange(entityID, *req.Heat, *req.Cool)
	case "on":
		return s.hub.TurnOn(entityID)
	case "off":
		return s.hub.TurnOff(entityID)
	default:
		return fmt.Errorf("%w: unknown action %q", errBadCommand, req.Action)
	}
}

// handleHealth reports the connection state; 503 while disconnected.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.hub.Connected()
	status, code := "ok", http.StatusOK
	if !connected {
		status, code = "disconnected", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"connected": connected,
		"entities":  s.hub.Len(),
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/api/climates", Method: "GET", Description: "All climate entities"},
	{Path: "/api/climates/{id}", Method: "GET", Description: "One climate entity"},
	{Path: "/api/climates/{id}/command", Method: "POST", Description: `Send a command, e.g. {"action":"temperature","temperature":21.5}`},
	{Path: "/health", Method: "GET", Description: "Connection state and entity count"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists the available endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		s.writeJSON(w, http.StatusOK, endpoints)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "climatesync API\n")
	fmt.Fprintf(w, "===============\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-6s %-28s %s\n", ep.Method, ep.Path, ep.Description)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
