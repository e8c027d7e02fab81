// Package health exposes liveness/readiness probes for the server process.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PingChecker is the narrow interface the readiness probe needs from the
// shared cache. internal/v1/cache.Store satisfies this.
type PingChecker interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	cache PingChecker
}

// NewHandler creates a new health check handler. cache may be nil when the
// server runs single-instance with Redis disabled, in which case the
// readiness probe reports the cache dependency as healthy unconditionally.
func NewHandler(cache PingChecker) *Handler {
	return &Handler{cache: cache}
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
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	cacheStatus := h.checkCache(ctx)
	checks["cache"] = cacheStatus
	if cacheStatus != "healthy" {
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

// checkCache verifies shared-cache connectivity with a PING.
func (h *Handler) checkCache(ctx context.Context) string {
	if h.cache == nil {
		return "healthy"
	}

	if err := h.cache.Ping(ctx); err != nil {
		logging.Error(ctx, "cache health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// HealthCheckResponse is a generic health check response shape. No handler
// in this package returns it; the probes use LivenessResponse and
// ReadinessResponse.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
