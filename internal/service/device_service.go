package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type deviceRepository interface {
	List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Device, error)
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	ExistsByDeviceID(ctx context.Context, deviceID string, excludeID string) (bool, error)
	Create(ctx context.Context, device *models.Device) error
	Update(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, id string) error
	Heartbeat(ctx context.Context, deviceID string, ip *string, seenAt time.Time) error
	CapacityStats(ctx context.Context) (*models.DeviceCapacityStats, error)
}

// RegisterDeviceRequest describes device registration.
type RegisterDeviceRequest struct {
	DeviceName      string  `json:"device_name" validate:"required"`
	BuildingNumber  int     `json:"building_number" validate:"required,min=1"`
	DeviceSequence  int     `json:"device_sequence" validate:"required,min=1"`
	Location        *string `json:"location,omitempty"`
	MaxFingerprints int     `json:"max_fingerprints"`
}

// UpdateDeviceRequest describes the mutable fields.
type UpdateDeviceRequest struct {
	DeviceName      string  `json:"device_name" validate:"required"`
	Location        *string `json:"location,omitempty"`
	Status          string  `json:"status" validate:"required"`
	MaxFingerprints int     `json:"max_fingerprints" validate:"min=1"`
}

// DeviceService manages the sensor registry.
type DeviceService struct {
	repo         deviceRepository
	validator    *validator.Validate
	logger       *zap.Logger
	onlineWindow time.Duration
}

// NewDeviceService constructs DeviceService.
func NewDeviceService(repo deviceRepository, onlineWindow time.Duration, validate *validator.Validate, logger *zap.Logger) *DeviceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onlineWindow <= 0 {
		onlineWindow = 120 * time.Second
	}
	return &DeviceService{repo: repo, onlineWindow: onlineWindow, validator: validate, logger: logger}
}

// List returns devices with slot usage and the derived online flag.
func (s *DeviceService) List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceDetail, *models.Pagination, error) {
	devices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
	}
	now := time.Now()
	for i := range devices {
		devices[i].Online = devices[i].OnlineWithin(s.onlineWindow, now)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return devices, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one device by its surrogate id.
func (s *DeviceService) Get(ctx context.Context, id string) (*models.Device, error) {
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
	}
	return device, nil
}

// Register creates a device with a generated hardware identifier.
func (s *DeviceService) Register(ctx context.Context, req RegisterDeviceRequest) (*models.Device, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid device payload")
	}
	deviceID := models.BuildDeviceID(req.BuildingNumber, req.DeviceSequence)
	exists, err := s.repo.ExistsByDeviceID(ctx, deviceID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate device id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a device with this building and sequence already exists")
	}

	device := &models.Device{
		DeviceID:        deviceID,
		DeviceName:      req.DeviceName,
		BuildingNumber:  req.BuildingNumber,
		DeviceSequence:  req.DeviceSequence,
		Location:        req.Location,
		MaxFingerprints: req.MaxFingerprints,
	}
	if err := s.repo.Create(ctx, device); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create device")
	}
	return device, nil
}

// Update rewrites mutable registry fields.
func (s *DeviceService) Update(ctx context.Context, id string, req UpdateDeviceRequest) (*models.Device, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid device payload")
	}
	status := models.DeviceStatus(req.Status)
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported device status")
	}
	device, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	device.DeviceName = req.DeviceName
	device.Location = req.Location
	device.Status = status
	device.MaxFingerprints = req.MaxFingerprints
	if err := s.repo.Update(ctx, device); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update device")
	}
	return device, nil
}

// Delete removes a device from the registry.
func (s *DeviceService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete device")
	}
	return nil
}

// Heartbeat stamps last_seen for a reporting device.
func (s *DeviceService) Heartbeat(ctx context.Context, deviceID string, ip string) error {
	var ipPtr *string
	if ip != "" {
		ipPtr = &ip
	}
	if err := s.repo.Heartbeat(ctx, deviceID, ipPtr, time.Now()); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "device not registered")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record heartbeat")
	}
	return nil
}

// CapacityStats summarises fleet slot usage.
func (s *DeviceService) CapacityStats(ctx context.Context) (*models.DeviceCapacityStats, error) {
	stats, err := s.repo.CapacityStats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute capacity stats")
	}
	return stats, nil
}
