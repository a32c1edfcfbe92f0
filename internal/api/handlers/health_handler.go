package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const engineHealthTimeout = 3 * time.Second

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports process and engine health.
type HealthHandler struct {
	engine HealthChecker
}

// NewHealthHandler creates a new HealthHandler. engine may be nil.
func NewHealthHandler(engine HealthChecker) *HealthHandler {
	return &HealthHandler{engine: engine}
}

// Get answers 200 when the engine is reachable and 503 otherwise.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "engine": "ok"}
	if h.engine == nil {
		status["engine"] = "unknown"
		writeJSON(w, http.StatusOK, status)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), engineHealthTimeout)
	defer cancel()
	if err := h.engine.HealthCheck(ctx); err != nil {
		log.Warn().Err(err).Msg("Speech engine health check failed")
		status["status"] = "degraded"
		status["engine"] = "unreachable"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
