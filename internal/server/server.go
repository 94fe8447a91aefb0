// Package server exposes the read-only status API: what is playing, what
// has been skipped, and whether the process is healthy.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"introskip/internal/models"
	"introskip/internal/store"
)

// SessionSource provides the live snapshot of tracked sessions.
type SessionSource interface {
	Sessions() []models.SessionStatus
}

// SkipSource reports which sessions have had their intro skipped.
type SkipSource interface {
	Skipped(sessionKey string) bool
	SkipCount() int
}

type Server struct {
	router   chi.Router
	store    *store.Store
	sessions SessionSource
	skips    SkipSource
	started  time.Time
}

type Option func(*Server)

func WithSessions(src SessionSource) Option {
	return func(s *Server) { s.sessions = src }
}

func WithSkips(src SkipSource) Option {
	return func(s *Server) { s.skips = src }
}

func NewServer(st *store.Store, opts ...Option) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		store:   st,
		started: time.Now(),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
