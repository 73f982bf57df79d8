package server

import (
	"net/http"

	"github.com/hearthward/jarvisd/internal/safety"
)

// handleListTools serves GET /api/tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.dispatcher.List()})
}

// handleExecuteTool serves POST /api/tools/execute: direct dispatch without
// the LLM in the loop. The caller tag "api" keeps these distinguishable from
// model-initiated calls in the audit trail.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string         `json:"name"`
		Args     map[string]any `json:"args"`
		Override bool           `json:"override"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	result := s.dispatcher.Execute(r.Context(), req.Name, req.Args,
		safety.CallContext{Caller: "api", Override: req.Override})
	status := http.StatusOK
	if result.Blocked {
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]any{
		"name":   req.Name,
		"result": result,
	})
}
