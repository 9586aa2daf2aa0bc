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

// DeviceHandler manages the fingerprint terminal registry.
type DeviceHandler struct {
	devices *service.DeviceService
}

// NewDeviceHandler constructs DeviceHandler.
func NewDeviceHandler(devices *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

// List godoc
// @Summary List devices
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param building query int false "Filter by building"
// @Param status query string false "Filter by status"
// @Param search query string false "Search device id or location"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	filter := models.DeviceFilter{
		Status: models.DeviceStatus(c.Query("status")),
		Search: c.Query("search"),
	}
	if building, err := strconv.Atoi(c.Query("building")); err == nil {
		filter.BuildingNumber = building
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	devices, pagination, err := h.devices.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, devices, pagination)
}

// Get godoc
// @Summary Device detail
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Router /devices/{id} [get]
func (h *DeviceHandler) Get(c *gin.Context) {
	device, err := h.devices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, device, nil)
}

// Register godoc
// @Summary Register a device
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.RegisterDeviceRequest true "Device payload"
// @Success 201 {object} response.Envelope
// @Router /devices [post]
func (h *DeviceHandler) Register(c *gin.Context) {
	var req service.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	device, err := h.devices.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, device)
}

// Update godoc
// @Summary Update a device
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param payload body service.UpdateDeviceRequest true "Device payload"
// @Success 200 {object} response.Envelope
// @Router /devices/{id} [put]
func (h *DeviceHandler) Update(c *gin.Context) {
	var req service.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	device, err := h.devices.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, device, nil)
}

// Delete godoc
// @Summary Delete a device
// @Tags Devices
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 204
// @Router /devices/{id} [delete]
func (h *DeviceHandler) Delete(c *gin.Context) {
	if err := h.devices.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CapacityStats godoc
// @Summary Fleet slot usage summary
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /devices/capacity [get]
func (h *DeviceHandler) CapacityStats(c *gin.Context) {
	stats, err := h.devices.CapacityStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
