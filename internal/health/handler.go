package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"

	"github.com/tjweldon/marain/internal/metrics"
)

// Handler serves the process's liveness/readiness HTTP surface. Unlike the
// teacher's Handler, this server has no external dependency (no Redis, no
// sibling SFU service) to check readiness against: the App goroutine either
// owns the process or the process is already dead, so readiness here
// reports the same thing liveness does, plus current connection count for
// operator visibility.
type Handler struct{}

// NewHandler creates a health check handler.
func NewHandler() *Handler {
	return &Handler{}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
	Timestamp         string `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
func (h *Handler) Readiness(c *gin.Context) {
	c.JSON(http.StatusOK, ReadinessResponse{
		Status:            "ready",
		ActiveConnections: activeConnectionCount(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	})
}

// activeConnectionCount reads the current value of the
// marain_websocket_connections_active gauge.
func activeConnectionCount() int {
	m := &dto.Metric{}
	if err := metrics.ActiveConnections.Write(m); err != nil {
		return -1
	}
	return int(m.GetGauge().GetValue())
}
