package server

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/go-chi/chi/v5"
)

// setupStatusRoutes configures the aggregate scheduler/store status route.
func (s *Server) setupStatusRoutes(r chi.Router) {
	r.Get("/status", s.handleStatus)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs("")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	counts := map[model.JobStatus]int{}
	for _, j := range jobs {
		counts[j.Status]++
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_jobs":   len(jobs),
		"by_status":    counts,
		"scheduler_up": s.sched != nil && s.sched.HealthCheck(r.Context()),
	})
}
