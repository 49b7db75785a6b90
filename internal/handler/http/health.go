package http

import (
	"net/http"
	"time"

	"mirrorpost/internal/handler/http/respond"
)

// handleHealth reports liveness with basic counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	environments := make([]string, 0, len(s.queues))
	for env := range s.queues {
		environments = append(environments, env)
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
		"requests":     s.requests.Load(),
		"environments": environments,
	})
}
