package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assistant-gate/internal/observability"
)

// MetricsHandler serves the in-memory counters as JSON.
type MetricsHandler struct {
	metrics *observability.Metrics
}

// NewMetricsHandler constructs handler.
func NewMetricsHandler(metrics *observability.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Get handles GET /metrics.
func (h *MetricsHandler) Get(c *fiber.Ctx) error {
	return c.JSON(h.metrics.Snapshot())
}
