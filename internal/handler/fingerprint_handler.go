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

// FingerprintHandler manages slot-to-student mappings.
type FingerprintHandler struct {
	fingerprints *service.FingerprintService
}

// NewFingerprintHandler constructs FingerprintHandler.
func NewFingerprintHandler(fingerprints *service.FingerprintService) *FingerprintHandler {
	return &FingerprintHandler{fingerprints: fingerprints}
}

// List godoc
// @Summary List fingerprint mappings
// @Tags Fingerprints
// @Produce json
// @Security BearerAuth
// @Param device_id query string false "Filter by device"
// @Param student_id query string false "Filter by student number"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /fingerprints [get]
func (h *FingerprintHandler) List(c *gin.Context) {
	filter := models.FingerprintFilter{
		DeviceID:  c.Query("device_id"),
		StudentID: c.Query("student_id"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	mappings, pagination, err := h.fingerprints.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mappings, pagination)
}

// Create godoc
// @Summary Create a fingerprint mapping
// @Tags Fingerprints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateMappingRequest true "Mapping payload"
// @Success 201 {object} response.Envelope
// @Router /fingerprints [post]
func (h *FingerprintHandler) Create(c *gin.Context) {
	var req service.CreateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	mapping, err := h.fingerprints.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, mapping)
}

// Delete godoc
// @Summary Delete a fingerprint mapping
// @Tags Fingerprints
// @Security BearerAuth
// @Param id path string true "Mapping ID"
// @Success 204
// @Router /fingerprints/{id} [delete]
func (h *FingerprintHandler) Delete(c *gin.Context) {
	if err := h.fingerprints.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type batchDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// BatchDelete godoc
// @Summary Delete several mappings
// @Tags Fingerprints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body batchDeleteRequest true "Mapping IDs"
// @Success 200 {object} response.Envelope
// @Router /fingerprints/batch-delete [post]
func (h *FingerprintHandler) BatchDelete(c *gin.Context) {
	var req batchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	deleted, failed, err := h.fingerprints.BatchDelete(c.Request.Context(), req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": deleted, "failed": failed}, nil)
}

// ValidateBatch godoc
// @Summary Dry-run a mapping import
// @Description Runs the full batch validation without writing anything.
// @Tags Fingerprints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body []models.MappingRow true "Candidate rows"
// @Success 200 {object} response.Envelope
// @Router /fingerprints/validate [post]
func (h *FingerprintHandler) ValidateBatch(c *gin.Context) {
	var rows []models.MappingRow
	if err := c.ShouldBindJSON(&rows); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid import payload"))
		return
	}
	if len(rows) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rows required"))
		return
	}
	result := h.fingerprints.ValidateBatch(c.Request.Context(), rows)
	response.JSON(c, http.StatusOK, result, nil)
}

// ImportBatch godoc
// @Summary Import fingerprint mappings
// @Description Accepted rows are written even when other rows reject.
// @Tags Fingerprints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body []models.MappingRow true "Candidate rows"
// @Success 200 {object} response.Envelope
// @Router /fingerprints/import [post]
func (h *FingerprintHandler) ImportBatch(c *gin.Context) {
	var rows []models.MappingRow
	if err := c.ShouldBindJSON(&rows); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid import payload"))
		return
	}
	if len(rows) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rows required"))
		return
	}
	result := h.fingerprints.ImportBatch(c.Request.Context(), rows)
	response.JSON(c, http.StatusOK, result, nil)
}

type enrollmentRequest struct {
	DeviceID      string `json:"device_id" binding:"required"`
	FingerprintID *int   `json:"fingerprint_id" binding:"required"`
	Status        string `json:"status" binding:"required"`
}

// UpdateEnrollment godoc
// @Summary Update a slot's enrollment status
// @Tags Fingerprints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body enrollmentRequest true "Enrollment payload"
// @Success 200 {object} response.Envelope
// @Router /fingerprints/enrollment [put]
func (h *FingerprintHandler) UpdateEnrollment(c *gin.Context) {
	var req enrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	err := h.fingerprints.UpdateEnrollment(c.Request.Context(), req.DeviceID, *req.FingerprintID, models.EnrollmentStatus(req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": true}, nil)
}
