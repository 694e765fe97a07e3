// Package api provides the HTTP API for observing a running store.
// GET endpoints are public and read-only. POST endpoints require a bearer
// token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/engine"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/persistence"
	"github.com/talgya/mini-market/internal/world"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	maxSpeed          = 1000
)

// Server serves the store state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB    // optional, backs events and trails
	Recent   *engine.MemorySink // optional, events when DB is nil
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Trail lookups hit SQLite; limited per client.
	TrailLimiter *RateLimiter
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	trailLimiter := s.TrailLimiter
	if trailLimiter == nil {
		trailLimiter = NewRateLimiter(120, time.Minute)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/customers", s.handleCustomers)
	mux.HandleFunc("/api/v1/customer/", RateLimitMiddleware(trailLimiter, s.handleCustomerDetail))
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/map", s.handleMap)
	mux.HandleFunc("/api/v1/zones", s.handleZones)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine and returns the server
// so the caller can shut it down.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "event_store", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins.
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
// GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no MARKETSIM_ADMIN_KEY set)", http.StatusForbidden)
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
	cfg := s.Sim.Config()
	status := map[string]any{
		"name":         "mini-market",
		"tick":         snap.Tick,
		"sim_time":     snap.Timestamp,
		"population":   len(snap.Customers),
		"spawned":      snap.Stats.Spawned,
		"exited":       snap.Stats.Exited,
		"arrival_rate": cfg.ArrivalRate,
		"seed":         cfg.Seed,
		"floor_plan":   s.Sim.Plan() != nil,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	if s.DB != nil {
		status["run_id"] = s.DB.RunID()
	}
	writeJSON(w, status)
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	zone := markov.Zone(r.URL.Query().Get("zone"))

	type customerSummary struct {
		*agents.Customer
		RouteLeft int `json:"route_left"`
	}

	result := []customerSummary{}
	for _, c := range s.Sim.Snapshot().Customers {
		if zone != "" && c.Zone != zone {
			continue
		}
		result = append(result, customerSummary{Customer: c, RouteLeft: c.RouteLen()})
	}
	writeJSON(w, result)
}

// handleCustomerDetail serves GET /api/v1/customer/:id with the live state
// and, when an event store is attached, the stored trail.
func (s *Server) handleCustomerDetail(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/customer/")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid customer id", http.StatusBadRequest)
		return
	}
	id := agents.CustomerID(n)

	var live *agents.Customer
	for _, c := range s.Sim.Snapshot().Customers {
		if c.ID == id {
			live = c
			break
		}
	}

	resp := map[string]any{"id": id, "in_store": live != nil}
	if live != nil {
		resp["customer"] = live
		resp["route"] = live.Route
	}
	if s.DB != nil {
		trail, err := s.DB.CustomerTrail(id)
		if err != nil {
			slog.Error("customer trail query failed", "customer", id, "error", err)
			http.Error(w, "trail query failed", http.StatusInternalServerError)
			return
		}
		resp["trail"] = trail
		if live == nil && len(trail) == 0 {
			http.Error(w, "customer not found", http.StatusNotFound)
			return
		}
	} else if live == nil {
		http.Error(w, "customer not found", http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxEventLimit {
			limit = n
		}
	}

	var events []engine.Event
	switch {
	case s.DB != nil:
		var err error
		events, err = s.DB.RecentEvents(limit)
		if err != nil {
			slog.Error("recent events query failed", "error", err)
			http.Error(w, "events query failed", http.StatusInternalServerError)
			return
		}
		slices.Reverse(events)
	case s.Recent != nil:
		events = s.Recent.Recent(limit)
	}

	// Optional zone filter.
	if zone := markov.Zone(r.URL.Query().Get("zone")); zone != "" {
		events = slices.DeleteFunc(events, func(e engine.Event) bool { return e.Zone != zone })
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

// handleMap renders the floor plan with customer counts per cell as text.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	plan := s.Sim.Plan()
	if plan == nil {
		http.Error(w, "no floor plan in zone-only mode", http.StatusNotFound)
		return
	}

	snap := s.Sim.Snapshot()
	occupied := make(map[world.Cell]int)
	for _, c := range snap.Customers {
		if c.Position != nil {
			occupied[*c.Position]++
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s tick %d, %d customers\n", snap.Timestamp, snap.Tick, len(snap.Customers))
	fmt.Fprint(w, plan.Render(occupied))
}

// handleZones returns how many customers are in each zone of the model.
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	counts := make(map[markov.Zone]int)
	for _, z := range s.Sim.Model().Zones() {
		counts[z] = 0
	}
	for _, c := range s.Sim.Snapshot().Customers {
		counts[c.Zone]++
	}
	writeJSON(w, counts)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs()
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "runs query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "no engine attached", http.StatusServiceUnavailable)
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
		if req.Speed < 0 || req.Speed > maxSpeed {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
