package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dormtrack/roomcheck-api/internal/service"
	"github.com/dormtrack/roomcheck-api/pkg/response"
)

// MetricsHandler exposes the Prometheus scrape endpoint and a JSON snapshot
// for the admin dashboard.
type MetricsHandler struct {
	metrics *service.MetricsService
}

// NewMetricsHandler constructs MetricsHandler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Prometheus returns the scrape handler wrapped for gin.
func (h *MetricsHandler) Prometheus() gin.HandlerFunc {
	return gin.WrapH(h.metrics.Handler())
}

// Snapshot godoc
// @Summary Runtime metrics snapshot
// @Tags System
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /system/metrics [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
