// Package server exposes a small read-only HTTP status API over the
// Scheduler and Store, in the teacher's chi.Router + route-file-per-concern
// style (see health_routes.go/status_routes.go/job_routes.go in this same
// package).
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/claude-pilot/internal/scheduler"
	"github.com/aristath/claude-pilot/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Config wires the Server's dependencies (mirrors the teacher's server.Config
// shape: one field per backing store/service, plus Log and Addr).
type Config struct {
	Addr      string
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Log       zerolog.Logger
}

// Server is the optional read-only status API (§[AMBIENT]).
type Server struct {
	addr   string
	store  *store.Store
	sched  *scheduler.Scheduler
	log    zerolog.Logger
	httpSrv *http.Server
}

// New builds a Server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		addr:  cfg.Addr,
		store: cfg.Store,
		sched: cfg.Scheduler,
		log:   cfg.Log.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	s.setupHealthRoutes(r)
	s.setupStatusRoutes(r)
	s.setupJobRoutes(r)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the server stops or errors. Callers
// run it in a goroutine, matching cmd/pilotd's srv.Start() usage.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("status server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
