package handlers

import (
	"net/http"

	"github.com/reindervandervoort/cad-pipeline/core/queue"
	"github.com/reindervandervoort/cad-pipeline/core/scheduler"
)

// HealthHandler reports liveness and pipeline statistics.
type HealthHandler struct {
	queue queue.Queue
	pool  *scheduler.Pool
}

// NewHealthHandler creates a new health handler. pool may be nil in
// fleet deployments where workers run out of process.
func NewHealthHandler(q queue.Queue, pool *scheduler.Pool) *HealthHandler {
	return &HealthHandler{queue: q, pool: pool}
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		http.Error(w, "Queue unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp := map[string]interface{}{
		"status":      "ok",
		"queue_depth": depth,
	}
	if h.pool != nil {
		workers := make(map[string]int)
		for state, n := range h.pool.Stats() {
			workers[string(state)] = n
		}
		resp["workers"] = workers
	}
	writeJSON(w, http.StatusOK, resp)
}
