package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dormtrack/roomcheck-api/internal/service"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
	"github.com/dormtrack/roomcheck-api/pkg/response"
)

// CheckinHandler serves the hardware-facing endpoints behind the device
// API token.
type CheckinHandler struct {
	checkins     *service.CheckinService
	fingerprints *service.FingerprintService
	devices      *service.DeviceService
}

// NewCheckinHandler constructs CheckinHandler.
func NewCheckinHandler(checkins *service.CheckinService, fingerprints *service.FingerprintService, devices *service.DeviceService) *CheckinHandler {
	return &CheckinHandler{checkins: checkins, fingerprints: fingerprints, devices: devices}
}

// Checkin godoc
// @Summary Record a fingerprint check event
// @Description Resolves the slot to a student, appends a check record and returns the display payload.
// @Tags Device API
// @Accept json
// @Produce json
// @Security DeviceToken
// @Param payload body service.CheckinRequest true "Check event"
// @Success 201 {object} response.Envelope
// @Router /device/checkin [post]
func (h *CheckinHandler) Checkin(c *gin.Context) {
	var req service.CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.IP = c.ClientIP()
	result, err := h.checkins.Checkin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Resolve godoc
// @Summary Resolve a fingerprint slot to a student
// @Tags Device API
// @Produce json
// @Security DeviceToken
// @Param deviceId path string true "Device ID"
// @Param slot path int true "Fingerprint slot"
// @Success 200 {object} response.Envelope
// @Router /device/{deviceId}/slots/{slot} [get]
func (h *CheckinHandler) Resolve(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "slot must be numeric"))
		return
	}
	student, err := h.fingerprints.Resolve(c.Request.Context(), c.Param("deviceId"), slot)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Unchecked godoc
// @Summary Students still unchecked for the device's building
// @Tags Device API
// @Produce json
// @Security DeviceToken
// @Param deviceId path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Router /device/{deviceId}/unchecked [get]
func (h *CheckinHandler) Unchecked(c *gin.Context) {
	statuses, err := h.checkins.Unchecked(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statuses, nil)
}

// StudentInfo godoc
// @Summary Student display info for the device screen
// @Tags Device API
// @Produce json
// @Security DeviceToken
// @Param deviceId path string true "Device ID"
// @Param studentId path string true "Student number"
// @Success 200 {object} response.Envelope
// @Router /device/{deviceId}/students/{studentId} [get]
func (h *CheckinHandler) StudentInfo(c *gin.Context) {
	info, err := h.checkins.StudentInfo(c.Request.Context(), c.Param("deviceId"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// Heartbeat godoc
// @Summary Device heartbeat
// @Description Stamps last-seen and stores the caller IP so the registry can flag offline devices.
// @Tags Device API
// @Produce json
// @Security DeviceToken
// @Param deviceId path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Router /device/{deviceId}/heartbeat [post]
func (h *CheckinHandler) Heartbeat(c *gin.Context) {
	if err := h.devices.Heartbeat(c.Request.Context(), c.Param("deviceId"), c.ClientIP()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}
