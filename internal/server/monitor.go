package server

import (
	"net/http"
	"strconv"

	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/store"
)

// handleMonitorStatus serves GET /api/monitor/status.
func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	killed, err := s.store.GetBoolPreference(ctx, store.PrefKillSwitch, false)
	if err != nil {
		storeError(w, err)
		return
	}
	level, err := s.store.GetIntPreference(ctx, store.PrefAutonomyLevel, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	status := map[string]any{
		"killSwitch":    killed,
		"autonomyLevel": level,
	}
	if s.tracker != nil {
		online, total := s.tracker.OnlineNodeCount()
		status["onlineNodes"] = online
		status["totalNodes"] = total
	}
	if s.monEngine != nil {
		if incident, active := s.monEngine.ActiveRemediation(); active {
			status["activeRemediation"] = incident
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleKillSwitch serves PUT /api/monitor/killswitch. Flipping it raises an
// event so every connected client sees the change.
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Engaged bool `json:"engaged"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.store.SetPreference(r.Context(), store.PrefKillSwitch, strconv.FormatBool(req.Engaged)); err != nil {
		storeError(w, err)
		return
	}

	title := "Kill switch disengaged"
	msg := "autonomous remediation resumed"
	if req.Engaged {
		title = "Kill switch engaged"
		msg = "autonomous remediation halted"
	}
	s.publishAndRecord(r, events.New("KILL_SWITCH", events.SeverityWarning, events.SourceUser, title, msg))
	writeJSON(w, http.StatusOK, map[string]bool{"engaged": req.Engaged})
}

// handleAutonomyLevel serves PUT /api/monitor/autonomy-level. Levels run 0
// (observe only) through 4 (full remediation).
func (s *Server) handleAutonomyLevel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level int `json:"level"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Level < 0 || req.Level > 4 {
		writeError(w, http.StatusBadRequest, "level must be between 0 and 4")
		return
	}
	if err := s.store.SetPreference(r.Context(), store.PrefAutonomyLevel, strconv.Itoa(req.Level)); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"level": req.Level})
}

// handleMonitorActions serves GET /api/monitor/actions: the autonomous
// remediation audit trail, newest first.
func (s *Server) handleMonitorActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.store.ListAutonomyActions(r.Context(), queryLimit(r, 50))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

// handleTestAlert serves POST /api/monitor/test-alert: an end-to-end check of
// the event path from store through bus to every subscriber.
func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	ev := events.New("TEST_ALERT", events.SeverityInfo, events.SourceSystem,
		"Test alert", "manually triggered alert for pipeline verification")
	s.publishAndRecord(r, ev)
	writeJSON(w, http.StatusCreated, map[string]any{"event": ev})
}
