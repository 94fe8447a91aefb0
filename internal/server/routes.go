package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"introskip/internal/models"
	"introskip/internal/version"
)

func (s *Server) routes() {
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)
		r.Get("/sessions", s.handleSessions)
		r.Get("/skips", s.handleSkips)
		r.Get("/version", s.handleVersion)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	statuses := []models.SessionStatus{}
	if s.sessions != nil {
		statuses = s.sessions.Sessions()
	}
	if s.skips != nil {
		for i := range statuses {
			statuses[i].Skipped = s.skips.Skipped(statuses[i].Key)
		}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSkips(w http.ResponseWriter, r *http.Request) {
	total := 0
	if s.skips != nil {
		total = s.skips.SkipCount()
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"product": version.Product,
		"version": version.Version,
	})
}
