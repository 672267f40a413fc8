package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/service"
	"github.com/taskdesk/taskdesk-api/pkg/response"
)

// MaintenanceHandler exposes admin-only operational endpoints.
type MaintenanceHandler struct {
	sweeper *service.TokenSweeper
	metrics *service.MetricsService
}

// NewMaintenanceHandler creates a new handler.
func NewMaintenanceHandler(sweeper *service.TokenSweeper, metrics *service.MetricsService) *MaintenanceHandler {
	return &MaintenanceHandler{sweeper: sweeper, metrics: metrics}
}

// TokenSweep godoc
// @Summary Purge expired refresh tokens
// @Description Runs the refresh token sweep immediately
// @Tags Maintenance
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/maintenance/token-sweep [post]
func (h *MaintenanceHandler) TokenSweep(c *gin.Context) {
	removed, err := h.sweeper.SweepNow(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSweep(removed)
	}

	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}
