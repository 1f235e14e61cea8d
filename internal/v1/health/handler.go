// Package health exposes the Kubernetes liveness and readiness probes.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// EngineChecker reports whether the media engine can take new sessions.
type EngineChecker interface {
	Healthy() bool
}

// Handler manages health check endpoints.
type Handler struct {
	engine EngineChecker
}

// NewHandler creates a new health check handler. A nil engine skips the
// engine check (signaling-only test setups).
func NewHandler(engine EngineChecker) *Handler {
	return &Handler{engine: engine}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if the media engine is healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	engineStatus := "healthy"
	if h.engine != nil && !h.engine.Healthy() {
		engineStatus = "unhealthy"
		allHealthy = false
	}
	checks["media_engine"] = engineStatus

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
