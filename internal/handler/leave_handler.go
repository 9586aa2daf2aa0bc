package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dormtrack/roomcheck-api/internal/models"
	"github.com/dormtrack/roomcheck-api/internal/service"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
	"github.com/dormtrack/roomcheck-api/pkg/response"
)

// LeaveHandler serves both the public student-facing leave flow and the
// authenticated review endpoints.
type LeaveHandler struct {
	leaves  *service.LeaveService
	captcha *service.CaptchaService
}

// NewLeaveHandler constructs LeaveHandler.
func NewLeaveHandler(leaves *service.LeaveService, captcha *service.CaptchaService) *LeaveHandler {
	return &LeaveHandler{leaves: leaves, captcha: captcha}
}

// NewCaptcha godoc
// @Summary Issue a captcha challenge
// @Tags Leave
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leave/captcha [get]
func (h *LeaveHandler) NewCaptcha(c *gin.Context) {
	captcha, err := h.captcha.New(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, captcha, nil)
}

// VerifyStudent godoc
// @Summary Verify a student identity before leave submission
// @Description Consumes the captcha, then matches student number and name against the roster.
// @Tags Leave
// @Accept json
// @Produce json
// @Param payload body service.VerifyStudentRequest true "Identity payload"
// @Success 200 {object} response.Envelope
// @Router /leave/verify [post]
func (h *LeaveHandler) VerifyStudent(c *gin.Context) {
	var req service.VerifyStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.leaves.VerifyStudent(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Submit godoc
// @Summary Submit a leave application
// @Tags Leave
// @Accept json
// @Produce json
// @Param payload body service.SubmitLeaveRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Router /leave [post]
func (h *LeaveHandler) Submit(c *gin.Context) {
	var req service.SubmitLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	application, err := h.leaves.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, application)
}

// ListMine godoc
// @Summary List a student's own applications
// @Tags Leave
// @Produce json
// @Param student_id query string true "Student number"
// @Param name query string true "Student name"
// @Success 200 {object} response.Envelope
// @Router /leave/mine [get]
func (h *LeaveHandler) ListMine(c *gin.Context) {
	studentID := c.Query("student_id")
	name := c.Query("name")
	if studentID == "" || name == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id and name required"))
		return
	}
	applications, err := h.leaves.ListMine(c.Request.Context(), studentID, name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applications, nil)
}

type cancelLeaveRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
}

// Cancel godoc
// @Summary Cancel an own pending application
// @Tags Leave
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body cancelLeaveRequest true "Identity payload"
// @Success 200 {object} response.Envelope
// @Router /leave/{id}/cancel [post]
func (h *LeaveHandler) Cancel(c *gin.Context) {
	var req cancelLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	application, err := h.leaves.Cancel(c.Request.Context(), c.Param("id"), req.StudentID, req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

// List godoc
// @Summary List applications for review
// @Description Counselors only see applications from their own students; the counselor filter is admin-only.
// @Tags Leave
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved, rejected or cancelled"
// @Param student_id query string false "Filter by student number"
// @Param counselor query string false "Filter by counselor (admins only)"
// @Success 200 {object} response.Envelope
// @Router /leave/admin [get]
func (h *LeaveHandler) List(c *gin.Context) {
	filter := models.LeaveFilter{
		StudentID: c.Query("student_id"),
		Counselor: c.Query("counselor"),
		Status:    models.LeaveStatus(c.Query("status")),
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role != models.RoleAdmin {
		filter.Counselor = claims.FullName
	}
	applications, err := h.leaves.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applications, nil)
}

// Get godoc
// @Summary Application detail
// @Tags Leave
// @Produce json
// @Security BearerAuth
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /leave/admin/{id} [get]
func (h *LeaveHandler) Get(c *gin.Context) {
	application, err := h.leaves.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

// Approve godoc
// @Summary Approve a pending application
// @Description Writes a leave check record for each requested future date.
// @Tags Leave
// @Produce json
// @Security BearerAuth
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /leave/admin/{id}/approve [post]
func (h *LeaveHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	application, err := h.leaves.Approve(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

// Reject godoc
// @Summary Reject a pending application
// @Tags Leave
// @Produce json
// @Security BearerAuth
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /leave/admin/{id}/reject [post]
func (h *LeaveHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	application, err := h.leaves.Reject(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}
