package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupHealthRoutes configures the liveness/readiness probe route.
func (s *Server) setupHealthRoutes(r chi.Router) {
	r.Get("/healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbHealth, dbErr := s.store.HealthCheck()
	ok := dbErr == nil && dbHealth.OK
	if s.sched != nil {
		ok = ok && s.sched.HealthCheck(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    ok,
		"store": dbHealth,
	})
}
