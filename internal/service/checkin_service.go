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

type slotResolver interface {
	ResolveStudent(ctx context.Context, deviceID string, fingerprintID int) (*models.ResolvedStudent, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.FingerprintMapping, error)
}

type heartbeatWriter interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	Heartbeat(ctx context.Context, deviceID string, ip *string, seenAt time.Time) error
}

// CheckinRequest is the device-facing check-in payload. Either fingerprint_id
// or student_id identifies the student.
type CheckinRequest struct {
	DeviceID      string `json:"device_id" validate:"required"`
	FingerprintID *int   `json:"fingerprint_id,omitempty"`
	StudentID     string `json:"student_id,omitempty"`
	CheckinType   string `json:"checkin_type" validate:"required,oneof=in out"`
	Confidence    *int   `json:"confidence,omitempty"`
	IP            string `json:"-"`
}

// CheckinResponse is the hardware display payload.
type CheckinResponse struct {
	StudentID string             `json:"student_id"`
	Name      string             `json:"name"`
	ClassName string             `json:"class_name"`
	Dormitory string             `json:"dormitory"`
	Status    models.CheckStatus `json:"status"`
	CheckTime time.Time          `json:"check_time"`
}

// DeviceStudentInfo pairs a student with their slot on one device.
type DeviceStudentInfo struct {
	Student       models.Student `json:"student"`
	FingerprintID *int           `json:"fingerprint_id,omitempty"`
	FingerIndex   *int           `json:"finger_index,omitempty"`
}

// CheckinService handles the sensor-facing API.
type CheckinService struct {
	records   checkRecordRepository
	slots     slotResolver
	students  studentReader
	devices   heartbeatWriter
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCheckinService constructs CheckinService.
func NewCheckinService(records checkRecordRepository, slots slotResolver, students studentReader, devices heartbeatWriter, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CheckinService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckinService{records: records, slots: slots, students: students, devices: devices, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Checkin resolves the student, appends the record attributed to the device
// and bumps the device heartbeat.
func (s *CheckinService) Checkin(ctx context.Context, req CheckinRequest) (*CheckinResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checkin payload")
	}
	if req.FingerprintID == nil && req.StudentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "fingerprint_id or student_id required")
	}

	device, err := s.devices.FindByDeviceID(ctx, req.DeviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
	}
	if device.Status != models.DeviceStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "device is not active")
	}

	studentID := req.StudentID
	if req.FingerprintID != nil {
		resolved, err := s.slots.ResolveStudent(ctx, req.DeviceID, *req.FingerprintID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "no student bound to this slot")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve slot")
		}
		studentID = resolved.StudentID
	}

	student, err := s.students.FindByStudentID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	status := models.CheckStatusPresent
	if req.CheckinType == "out" {
		status = models.CheckStatusOut
	}

	record := &models.CheckRecord{
		StudentID: student.StudentID,
		Status:    status,
		CheckTime: time.Now(),
		DeviceID:  &req.DeviceID,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append check record")
	}
	s.metrics.RecordCheckin("device", status)

	var ipPtr *string
	if req.IP != "" {
		ipPtr = &req.IP
	}
	if err := s.devices.Heartbeat(ctx, req.DeviceID, ipPtr, record.CheckTime); err != nil {
		s.logger.Warn("heartbeat update failed", zap.String("device_id", req.DeviceID), zap.Error(err))
	}

	s.invalidateStatusCaches(ctx)

	return &CheckinResponse{
		StudentID: student.StudentID,
		Name:      student.Name,
		ClassName: student.ClassName,
		Dormitory: student.Dormitory(),
		Status:    status,
		CheckTime: record.CheckTime,
	}, nil
}

// Unchecked lists students of the device's building without any record today.
// Hardware uses it to prompt stragglers in the evening round.
func (s *CheckinService) Unchecked(ctx context.Context, deviceID string) ([]models.StudentStatus, error) {
	device, err := s.devices.FindByDeviceID(ctx, deviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
	}
	dayStart, dayEnd, _ := dayWindow("")
	statuses, err := s.records.ListStatuses(ctx, dayStart, dayEnd, models.StatusFilter{
		Building: device.BuildingNumber,
		Status:   models.CheckStatusUnchecked,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list unchecked students")
	}
	return statuses, nil
}

// StudentInfo returns a student plus the slot they hold on this device.
func (s *CheckinService) StudentInfo(ctx context.Context, deviceID, studentID string) (*DeviceStudentInfo, error) {
	student, err := s.students.FindByStudentID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	info := &DeviceStudentInfo{Student: *student}
	mappings, err := s.slots.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fingerprints")
	}
	for i := range mappings {
		if mappings[i].DeviceID == deviceID {
			info.FingerprintID = &mappings[i].FingerprintID
			info.FingerIndex = mappings[i].FingerIndex
			break
		}
	}
	return info, nil
}

func (s *CheckinService) invalidateStatusCaches(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "status:*"); err != nil {
		s.logger.Warn("status cache invalidation failed", zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, "stats:*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}
