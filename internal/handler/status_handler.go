package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dormtrack/roomcheck-api/internal/models"
	"github.com/dormtrack/roomcheck-api/internal/service"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
	"github.com/dormtrack/roomcheck-api/pkg/response"
)

// StatusHandler exposes the derived bed-presence board.
type StatusHandler struct {
	statuses *service.StatusService
}

// NewStatusHandler constructs StatusHandler.
func NewStatusHandler(statuses *service.StatusService) *StatusHandler {
	return &StatusHandler{statuses: statuses}
}

func statusFilterFromQuery(c *gin.Context) models.StatusFilter {
	var filter models.StatusFilter
	if building, err := strconv.Atoi(c.Query("building")); err == nil {
		filter.Building = building
	}
	if floor, err := strconv.Atoi(c.Query("floor")); err == nil {
		filter.BuildingFloor = floor
	}
	filter.BuildingArea = c.Query("area")
	filter.ClassName = c.Query("class_name")
	filter.Counselor = c.Query("counselor")
	filter.Status = models.CheckStatus(c.Query("status"))
	filter.StudentID = c.Query("student_id")
	filter.Search = c.Query("search")
	return filter
}

// ListByDate godoc
// @Summary Status board for one date
// @Description Every roster student with the status derived from the day's last check record.
// @Tags Status
// @Produce json
// @Security BearerAuth
// @Param date query string false "Date (2006-01-02, defaults to today)"
// @Param building query int false "Filter by building"
// @Param status query string false "Filter by derived status"
// @Success 200 {object} response.Envelope
// @Router /status [get]
func (h *StatusHandler) ListByDate(c *gin.Context) {
	statuses, err := h.statuses.ListByDate(c.Request.Context(), c.Query("date"), statusFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statuses, nil)
}

// CurrentStatus godoc
// @Summary One student's status for a date
// @Tags Status
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student number"
// @Param date query string false "Date (2006-01-02, defaults to today)"
// @Success 200 {object} response.Envelope
// @Router /status/{studentId} [get]
func (h *StatusHandler) CurrentStatus(c *gin.Context) {
	status, err := h.statuses.CurrentStatus(c.Request.Context(), c.Param("studentId"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// SetStatus godoc
// @Summary Manually set a student's status
// @Description Appends a manual check record; history is never rewritten.
// @Tags Status
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SetStatusRequest true "Status payload"
// @Success 201 {object} response.Envelope
// @Router /status [post]
func (h *StatusHandler) SetStatus(c *gin.Context) {
	var req service.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	record, err := h.statuses.SetStatus(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// CancelLeave godoc
// @Summary Cancel a leave day for a student
// @Description Appends an unchecked record after the day's last one so the leave no longer counts.
// @Tags Status
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student number"
// @Param date query string false "Date (2006-01-02, defaults to today)"
// @Success 201 {object} response.Envelope
// @Router /status/{studentId}/cancel-leave [post]
func (h *StatusHandler) CancelLeave(c *gin.Context) {
	claims := claimsFromContext(c)
	record, err := h.statuses.CancelLeave(c.Request.Context(), c.Param("studentId"), c.Query("date"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

type batchLeaveRequest struct {
	StudentIDs []string `json:"student_ids" binding:"required,min=1"`
}

// BatchSetLeave godoc
// @Summary Mark several students on leave for today
// @Tags Status
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body batchLeaveRequest true "Student numbers"
// @Success 200 {object} response.Envelope
// @Router /status/batch-leave [post]
func (h *StatusHandler) BatchSetLeave(c *gin.Context) {
	var req batchLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	result, err := h.statuses.BatchSetLeave(c.Request.Context(), req.StudentIDs, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary Check record history for a student
// @Tags Status
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student number"
// @Param days query int false "Window in days (max 90, default 7)"
// @Success 200 {object} response.Envelope
// @Router /status/{studentId}/history [get]
func (h *StatusHandler) History(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	records, err := h.statuses.History(c.Request.Context(), c.Param("studentId"), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// LeaveHistory godoc
// @Summary Students on leave for one date with their applications
// @Tags Status
// @Produce json
// @Security BearerAuth
// @Param date query string false "Date (2006-01-02, defaults to today)"
// @Success 200 {object} response.Envelope
// @Router /status/leave-history [get]
func (h *StatusHandler) LeaveHistory(c *gin.Context) {
	rows, err := h.statuses.LeaveHistory(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
