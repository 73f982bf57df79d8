// Package server exposes the REST surface over chi: health, auth, the chat
// mirror of the realtime path, tool listing and dispatch, memory and
// preference access, the monitor control endpoints, camera proxies, and the
// Prometheus scrape endpoint. The websocket gateway mounts under /ws.
//
// Every error response is the JSON object {"error": "..."} with the
// matching status code.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthward/jarvisd/internal/engine"
	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/gateway"
	"github.com/hearthward/jarvisd/internal/health"
	"github.com/hearthward/jarvisd/internal/monitor"
	"github.com/hearthward/jarvisd/internal/observe"
	"github.com/hearthward/jarvisd/internal/state"
	"github.com/hearthward/jarvisd/internal/store"
	"github.com/hearthward/jarvisd/internal/tools"
	"github.com/hearthward/jarvisd/pkg/frigate"
)

// Server owns the REST handlers and their dependencies.
type Server struct {
	store      *store.Store
	dispatcher *tools.Dispatcher
	engine     *engine.Engine
	gateway    *gateway.Gateway
	bus        *events.Bus
	health     *health.Handler
	metrics    *observe.Metrics

	// tracker and monEngine feed /api/monitor/status; either may be nil.
	tracker   *state.Tracker
	monEngine *monitor.Engine

	// nvr serves the camera proxies; nil disables them with 404s.
	nvr *frigate.Client

	auth    *authenticator
	pending *pendingCalls
}

// Config assembles a [Server].
type Config struct {
	Store      *store.Store
	Dispatcher *tools.Dispatcher
	Engine     *engine.Engine
	Gateway    *gateway.Gateway
	Bus        *events.Bus
	Health     *health.Handler
	Metrics    *observe.Metrics
	Tracker    *state.Tracker
	MonEngine  *monitor.Engine
	NVR        *frigate.Client

	// PasswordHash is the bcrypt hash accepted by /api/auth/login. Empty
	// disables password login.
	PasswordHash string

	// APIKey, when non-empty, is accepted in X-API-Key as an alternative
	// to a bearer token.
	APIKey string
}

// New creates the server.
func New(cfg Config) *Server {
	return &Server{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		engine:     cfg.Engine,
		gateway:    cfg.Gateway,
		bus:        cfg.Bus,
		health:     cfg.Health,
		metrics:    cfg.Metrics,
		tracker:    cfg.Tracker,
		monEngine:  cfg.MonEngine,
		nvr:        cfg.NVR,
		auth:       newAuthenticator(cfg.PasswordHash, cfg.APIKey),
		pending:    newPendingCalls(),
	}
}

// TokenValid reports whether a bearer token is live, for the websocket
// gateway's handshake.
func (s *Server) TokenValid(token string) bool {
	return s.auth.validToken(token)
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/auth/login", s.handleLogin)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/api/chat", s.handleChat)
		r.Post("/api/chat/confirm", s.handleConfirm)

		r.Get("/api/tools", s.handleListTools)
		r.Post("/api/tools/execute", s.handleExecuteTool)

		r.Get("/api/memory/events", s.handleListEvents)
		r.Post("/api/memory/events", s.handleCreateEvent)
		r.Get("/api/memory/events/unresolved", s.handleUnresolvedEvents)
		r.Get("/api/memory/preferences", s.handleListPreferences)
		r.Get("/api/memory/preferences/{key}", s.handleGetPreference)
		r.Put("/api/memory/preferences/{key}", s.handlePutPreference)

		r.Get("/api/monitor/status", s.handleMonitorStatus)
		r.Put("/api/monitor/killswitch", s.handleKillSwitch)
		r.Put("/api/monitor/autonomy-level", s.handleAutonomyLevel)
		r.Get("/api/monitor/actions", s.handleMonitorActions)
		r.Post("/api/monitor/test-alert", s.handleTestAlert)

		r.Get("/api/camera/{camera}/snapshot", s.handleCameraSnapshot)
		r.Get("/api/camera/{camera}/events", s.handleCameraEvents)
		r.Get("/api/camera/faces", s.handleCameraFaces)
	})

	if s.gateway != nil {
		r.Get("/ws/chat", s.gateway.HandleChat)
		r.Get("/ws/voice", s.gateway.HandleVoice)
		r.Get("/ws/events", s.gateway.HandleEvents)
	}
	return r
}

// handleHealth serves the component health vector; ?liveness answers the
// minimal probe without touching dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("liveness") {
		s.health.Healthz(w, r)
		return
	}
	s.health.Readyz(w, r)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

// storeError maps store failures onto the REST error shape.
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error("store operation failed", "error", err)
	writeError(w, http.StatusServiceUnavailable, "storage unavailable")
}

func queryLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// publishAndRecord stores the event then pushes it to realtime subscribers.
// The audit write precedes the broadcast.
func (s *Server) publishAndRecord(r *http.Request, ev events.Event) {
	if err := s.store.RecordEvent(r.Context(), ev); err != nil {
		slog.Warn("event record failed", "type", ev.Type, "error", err)
	}
	s.bus.Publish(ev)
}
