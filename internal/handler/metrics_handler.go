package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haab-bank/customer-update-api/internal/service"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
	"github.com/haab-bank/customer-update-api/pkg/response"
)

// MetricsHandler exposes the Prometheus scrape endpoint and an admin
// snapshot of aggregated runtime counters.
type MetricsHandler struct {
	metrics *service.MetricsService
}

// NewMetricsHandler constructs the handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Prometheus serves the scrape endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Snapshot godoc
// @Summary Aggregated runtime metrics
// @Tags Metrics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/metrics [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
