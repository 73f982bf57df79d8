package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthward/jarvisd/internal/events"
)

// handleListEvents serves GET /api/memory/events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.store.ListEvents(r.Context(), queryLimit(r, 50))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// handleUnresolvedEvents serves GET /api/memory/events/unresolved.
func (s *Server) handleUnresolvedEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.store.UnresolvedEvents(r.Context(), queryLimit(r, 50))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// handleCreateEvent serves POST /api/memory/events: a manually raised event,
// recorded and broadcast like any monitor finding.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string `json:"type"`
		Severity string `json:"severity"`
		Title    string `json:"title"`
		Message  string `json:"message"`
		Node     string `json:"node"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "type and title are required")
		return
	}
	sev := events.Severity(req.Severity)
	switch sev {
	case events.SeverityInfo, events.SeverityWarning, events.SeverityError, events.SeverityCritical:
	case "":
		sev = events.SeverityInfo
	default:
		writeError(w, http.StatusBadRequest, "unknown severity")
		return
	}

	ev := events.New(req.Type, sev, events.SourceUser, req.Title, req.Message)
	ev.Node = req.Node
	s.publishAndRecord(r, ev)
	writeJSON(w, http.StatusCreated, map[string]any{"event": ev})
}

// handleListPreferences serves GET /api/memory/preferences.
func (s *Server) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.ListPreferences(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

// handleGetPreference serves GET /api/memory/preferences/{key}.
func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.store.GetPreference(r.Context(), key)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// handlePutPreference serves PUT /api/memory/preferences/{key}.
func (s *Server) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.store.SetPreference(r.Context(), key, req.Value); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
