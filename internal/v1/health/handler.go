// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"go.uber.org/zap"
)

// Pinger is the probe contract a dependency must satisfy. Both the store
// and the bus implement it; the bus's nil receiver reports healthy, which
// is correct for single-instance mode.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints
type Handler struct {
	store Pinger
	bus   Pinger
}

// NewHandler creates a new health check handler
func NewHandler(store, bus Pinger) *Handler {
	return &Handler{
		store: store,
		bus:   bus,
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /healthz
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /readyz
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	checks["postgres"] = h.check(ctx, "postgres", h.store)
	if checks["postgres"] != "healthy" {
		allHealthy = false
	}

	checks["redis"] = h.check(ctx, "redis", h.bus)
	if checks["redis"] != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

func (h *Handler) check(ctx context.Context, name string, dep Pinger) string {
	if dep == nil {
		// Not wired at all: nothing to be unready about
		return "healthy"
	}
	if err := dep.Ping(ctx); err != nil {
		logging.Error(ctx, "Health check failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
