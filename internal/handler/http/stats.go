package http

import (
	"net/http"

	"mirrorpost/internal/handler/http/respond"
	"mirrorpost/internal/observability/metrics"
)

// handleStats reports queue file counts per environment and state.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	for env, q := range s.queues {
		stats, err := q.Stats()
		if err != nil {
			respond.Error(w, http.StatusInternalServerError, "stats collection failed")
			return
		}
		for state, count := range stats {
			metrics.UpdateQueueDepth(env, state, count)
		}
		out[env] = stats
	}
	if s.broadcast != nil {
		stats, err := s.broadcast.Stats()
		if err != nil {
			respond.Error(w, http.StatusInternalServerError, "stats collection failed")
			return
		}
		out["broadcast"] = stats
	}
	respond.JSON(w, http.StatusOK, out)
}
