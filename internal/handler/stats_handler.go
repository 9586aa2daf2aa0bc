package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dormtrack/roomcheck-api/internal/service"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
	"github.com/dormtrack/roomcheck-api/pkg/response"
)

// StatsHandler serves aggregated presence statistics.
type StatsHandler struct {
	stats *service.StatsService
}

// NewStatsHandler constructs StatsHandler.
func NewStatsHandler(stats *service.StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// Buildings godoc
// @Summary Per-building status counts for a date
// @Tags Stats
// @Produce json
// @Security BearerAuth
// @Param date query string false "Date (2006-01-02, defaults to today)"
// @Success 200 {object} response.Envelope
// @Router /stats/buildings [get]
func (h *StatsHandler) Buildings(c *gin.Context) {
	stats, err := h.stats.Buildings(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Floors godoc
// @Summary Per-floor status counts for one building
// @Tags Stats
// @Produce json
// @Security BearerAuth
// @Param building path int true "Building number"
// @Param date query string false "Date (2006-01-02, defaults to today)"
// @Success 200 {object} response.Envelope
// @Router /stats/buildings/{building}/floors [get]
func (h *StatsHandler) Floors(c *gin.Context) {
	building, err := strconv.Atoi(c.Param("building"))
	if err != nil || building < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "building must be a positive number"))
		return
	}
	stats, err := h.stats.Floors(c.Request.Context(), building, c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Dashboard godoc
// @Summary Campus-wide dashboard summary
// @Tags Stats
// @Produce json
// @Security BearerAuth
// @Param date query string false "Date (2006-01-02, defaults to today)"
// @Success 200 {object} response.Envelope
// @Router /stats/dashboard [get]
func (h *StatsHandler) Dashboard(c *gin.Context) {
	summary, err := h.stats.Dashboard(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
