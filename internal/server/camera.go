package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// The camera endpoints proxy Frigate so clients never need direct NVR
// access or its credentials.

func (s *Server) handleCameraSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.nvr == nil {
		writeError(w, http.StatusNotFound, "camera integration not configured")
		return
	}
	camera := chi.URLParam(r, "camera")
	data, contentType, err := s.nvr.Snapshot(r.Context(), camera)
	if err != nil {
		slog.Warn("snapshot fetch failed", "camera", camera, "error", err)
		writeError(w, http.StatusServiceUnavailable, "snapshot unavailable")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("snapshot write failed", "camera", camera, "error", err)
	}
}

func (s *Server) handleCameraEvents(w http.ResponseWriter, r *http.Request) {
	if s.nvr == nil {
		writeError(w, http.StatusNotFound, "camera integration not configured")
		return
	}
	camera := chi.URLParam(r, "camera")
	evs, err := s.nvr.Events(r.Context(), camera, queryLimit(r, 20))
	if err != nil {
		slog.Warn("camera events fetch failed", "camera", camera, "error", err)
		writeError(w, http.StatusServiceUnavailable, "camera events unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleCameraFaces(w http.ResponseWriter, r *http.Request) {
	if s.nvr == nil {
		writeError(w, http.StatusNotFound, "camera integration not configured")
		return
	}
	faces, err := s.nvr.Faces(r.Context())
	if err != nil {
		slog.Warn("faces fetch failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "face list unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"faces": faces})
}
