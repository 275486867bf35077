// Package api provides the HTTP feed for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/engine"
	"github.com/talgya/disaster-abm/internal/persistence"
)

// Server serves the simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	hub *Hub
}

// Handler builds the route table. The stream hub is created on first use.
func (s *Server) Handler() http.Handler {
	// Position dumps are the heaviest responses.
	feedLimiter := NewRateLimiter(120, time.Minute)

	if s.hub == nil {
		s.hub = NewHub(s.Sim)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", RateLimitMiddleware(feedLimiter, s.handleAgents))
	mux.HandleFunc("/api/v1/counters", s.handleCounters)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/damage", s.handleDamage)

	// WebSocket position feed.
	mux.HandleFunc("/api/v1/stream", s.hub.ServeWS)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("/api/v1/intervention", s.adminOnly(s.handleIntervention))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	handler := s.Handler()
	go s.hub.Run()

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no DISASTERSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()

	status := map[string]any{
		"tick":           snap.Tick,
		"sim_time":       snap.Time,
		"detonated":      snap.Detonated,
		"detonation_at":  engine.SimTime(snap.EventTick),
		"epicenter":      snap.Epicenter,
		"population":     snap.Stats.Population,
		"alive":          snap.Stats.Alive,
		"dead":           snap.Stats.Dead,
		"stream_clients": s.hub.Clients(),
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed
		status["running"] = s.Eng.Running
	}
	writeJSON(w, status)
}

// handleAgents returns the latest positions. Optional filters: kind
// (individual|group) and status (the combined health status code).
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	status := -1
	if v := r.URL.Query().Get("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "status must be an integer", http.StatusBadRequest)
			return
		}
		status = n
	}

	snap := s.Sim.Snapshot()
	result := make([]agents.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if kind != "" && p.Kind != kind {
			continue
		}
		if status >= 0 && p.Status != status {
			continue
		}
		result = append(result, p)
	}
	writeJSON(w, result)
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot().Counters)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.Sim.Events(limit)

	// Optional category filter.
	if cat := r.URL.Query().Get("category"); cat != "" {
		var filtered []engine.Event
		for _, e := range events {
			if e.Category == cat {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	writeJSON(w, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot().Stats)
}

func (s *Server) handleDamage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot().Damage)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.Speed = req.Speed
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed})
}

// handleSnapshot stores the run as it stands in the result database.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	var (
		id  string
		err error
	)
	s.Sim.Locked(func() { id, err = s.DB.SaveRun(s.Sim) })
	if err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"run_id":  id,
		"message": "snapshot saved",
	})
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Type        string  `json:"type"`
		Description string  `json:"description,omitempty"`
		Category    string  `json:"category,omitempty"`
		Tick        uint64  `json:"tick,omitempty"`
		Lon         float64 `json:"lon,omitempty"`
		Lat         float64 `json:"lat,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	switch req.Type {
	case "event":
		if req.Description == "" {
			http.Error(w, "description required for event type", http.StatusBadRequest)
			return
		}
		cat := req.Category
		if cat == "" {
			cat = "intervention"
		}
		s.Sim.EmitEvent(engine.Event{
			Tick:        s.Sim.CurrentTick(),
			Description: req.Description,
			Category:    cat,
		})
		writeJSON(w, map[string]any{"success": true, "details": "event injected"})

	case "reschedule":
		if req.Tick == 0 {
			http.Error(w, "tick required for reschedule type", http.StatusBadRequest)
			return
		}
		epicenter := s.Sim.Snapshot().Epicenter
		if req.Lon != 0 || req.Lat != 0 {
			epicenter = orb.Point{req.Lon, req.Lat}
		}
		desc, err := s.Sim.RescheduleEvent(req.Tick, epicenter)
		switch {
		case errors.Is(err, engine.ErrAlreadyFired):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"success": true, "details": desc})

	default:
		http.Error(w, "unknown intervention type (use: event, reschedule)", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
