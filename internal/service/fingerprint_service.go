package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type fingerprintRepository interface {
	List(ctx context.Context, filter models.FingerprintFilter) ([]models.FingerprintMappingDetail, int, error)
	FindBySlot(ctx context.Context, deviceID string, fingerprintID int) (*models.FingerprintMapping, error)
	FindByID(ctx context.Context, id string) (*models.FingerprintMapping, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.FingerprintMapping, error)
	Create(ctx context.Context, mapping *models.FingerprintMapping) error
	Reassign(ctx context.Context, id, studentID string, fingerIndex *int) error
	UpdateEnrollmentStatus(ctx context.Context, deviceID string, fingerprintID int, status models.EnrollmentStatus) error
	Delete(ctx context.Context, id string) error
	ResolveStudent(ctx context.Context, deviceID string, fingerprintID int) (*models.ResolvedStudent, error)
}

type deviceReader interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
}

// CreateMappingRequest is the single-mapping creation payload.
type CreateMappingRequest struct {
	StudentID     string `json:"student_id" validate:"required"`
	DeviceID      string `json:"device_id" validate:"required"`
	FingerprintID int    `json:"fingerprint_id" validate:"min=0"`
	FingerIndex   *int   `json:"finger_index,omitempty"`
}

// FingerprintService manages slot-to-student mappings and the batch importer.
type FingerprintService struct {
	repo      fingerprintRepository
	students  studentReader
	devices   deviceReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFingerprintService constructs FingerprintService.
func NewFingerprintService(repo fingerprintRepository, students studentReader, devices deviceReader, validate *validator.Validate, logger *zap.Logger) *FingerprintService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FingerprintService{repo: repo, students: students, devices: devices, validator: validate, logger: logger}
}

// List returns mapping details with pagination metadata.
func (s *FingerprintService) List(ctx context.Context, filter models.FingerprintFilter) ([]models.FingerprintMappingDetail, *models.Pagination, error) {
	details, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list mappings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return details, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create validates and stores one mapping, applying the same rules as a
// single-row batch.
func (s *FingerprintService) Create(ctx context.Context, req CreateMappingRequest) (*models.FingerprintMapping, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mapping payload")
	}
	row := models.MappingRow{Row: 2, StudentID: req.StudentID, DeviceID: req.DeviceID, FingerprintID: req.FingerprintID, FingerIndex: req.FingerIndex}
	outcome := s.checkRow(ctx, row)
	if outcome.err != "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, outcome.err)
	}

	if outcome.existing != nil {
		if err := s.repo.Reassign(ctx, outcome.existing.ID, req.StudentID, req.FingerIndex); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign slot")
		}
		return s.repo.FindByID(ctx, outcome.existing.ID)
	}

	mapping := &models.FingerprintMapping{
		DeviceID:      req.DeviceID,
		FingerprintID: req.FingerprintID,
		StudentID:     req.StudentID,
		FingerIndex:   req.FingerIndex,
	}
	if err := s.repo.Create(ctx, mapping); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create mapping")
	}
	return mapping, nil
}

// Delete removes one mapping by id.
func (s *FingerprintService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "mapping not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete mapping")
	}
	return nil
}

// BatchDelete removes multiple mappings, reporting per-id failures.
func (s *FingerprintService) BatchDelete(ctx context.Context, ids []string) (deleted int, failed []string, err error) {
	if len(ids) == 0 {
		return 0, nil, appErrors.Clone(appErrors.ErrValidation, "ids required")
	}
	for _, id := range ids {
		if delErr := s.repo.Delete(ctx, id); delErr != nil {
			failed = append(failed, id)
			continue
		}
		deleted++
	}
	return deleted, failed, nil
}

// UpdateEnrollment records the sensor capture outcome for a slot.
func (s *FingerprintService) UpdateEnrollment(ctx context.Context, deviceID string, fingerprintID int, status models.EnrollmentStatus) error {
	switch status {
	case models.EnrollmentStatusEnrolled, models.EnrollmentStatusFailed, models.EnrollmentStatusPending:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported enrollment status")
	}
	if err := s.repo.UpdateEnrollmentStatus(ctx, deviceID, fingerprintID, status); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "mapping not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	return nil
}

// Resolve returns the student identity bound to a slot. Used by the device API.
func (s *FingerprintService) Resolve(ctx context.Context, deviceID string, fingerprintID int) (*models.ResolvedStudent, error) {
	resolved, err := s.repo.ResolveStudent(ctx, deviceID, fingerprintID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no student bound to this slot")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve slot")
	}
	return resolved, nil
}

// ValidateBatch runs all import checks without writing anything.
func (s *FingerprintService) ValidateBatch(ctx context.Context, rows []models.MappingRow) *models.BatchImportResult {
	return s.runBatch(ctx, rows, false)
}

// ImportBatch validates and writes accepted rows one by one. Partial success
// is the contract: a rejected row never rolls back its neighbours.
func (s *FingerprintService) ImportBatch(ctx context.Context, rows []models.MappingRow) *models.BatchImportResult {
	return s.runBatch(ctx, rows, true)
}

type rowCheck struct {
	err      string
	warnings []string
	existing *models.FingerprintMapping // failed slot eligible for reassignment
}

func (s *FingerprintService) runBatch(ctx context.Context, rows []models.MappingRow, write bool) *models.BatchImportResult {
	result := &models.BatchImportResult{Total: len(rows)}

	pairRows := make(map[string][]int, len(rows))
	studentRows := make(map[string][]int, len(rows))
	for _, row := range rows {
		pair := fmt.Sprintf("%s#%d", row.DeviceID, row.FingerprintID)
		pairRows[pair] = append(pairRows[pair], row.Row)
		studentRows[row.StudentID] = append(studentRows[row.StudentID], row.Row)
	}

	for _, row := range rows {
		rowResult := models.MappingRowResult{Row: row.Row, Outcome: models.RowAccepted}

		// In-batch duplicates fail every occurrence so nothing half-applies.
		pair := fmt.Sprintf("%s#%d", row.DeviceID, row.FingerprintID)
		if dupes := pairRows[pair]; len(dupes) > 1 {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = fmt.Sprintf("duplicate device/fingerprint pair in rows %s", joinRows(dupes))
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}
		if dupes := studentRows[row.StudentID]; row.StudentID != "" && len(dupes) > 1 {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = fmt.Sprintf("duplicate student_id in rows %s", joinRows(dupes))
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}

		check := s.checkRow(ctx, row)
		if check.err != "" {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = check.err
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}
		rowResult.Warnings = check.warnings

		if write {
			if check.existing != nil {
				if err := s.repo.Reassign(ctx, check.existing.ID, row.StudentID, row.FingerIndex); err != nil {
					rowResult.Outcome = models.RowRejected
					rowResult.Error = "write failed"
					result.Rows = append(result.Rows, rowResult)
					result.Rejected++
					continue
				}
				rowResult.Updated = true
			} else {
				mapping := &models.FingerprintMapping{
					DeviceID:      row.DeviceID,
					FingerprintID: row.FingerprintID,
					StudentID:     row.StudentID,
					FingerIndex:   row.FingerIndex,
				}
				if err := s.repo.Create(ctx, mapping); err != nil {
					rowResult.Outcome = models.RowRejected
					rowResult.Error = "write failed"
					result.Rows = append(result.Rows, rowResult)
					result.Rejected++
					continue
				}
			}
		} else if check.existing != nil {
			rowResult.Updated = true
		}

		result.Rows = append(result.Rows, rowResult)
		result.Accepted++
	}
	return result
}

func (s *FingerprintService) checkRow(ctx context.Context, row models.MappingRow) rowCheck {
	if row.StudentID == "" {
		return rowCheck{err: "student_id required"}
	}
	if _, err := s.students.FindByStudentID(ctx, row.StudentID); err != nil {
		if err == sql.ErrNoRows {
			return rowCheck{err: fmt.Sprintf("student %s not found", row.StudentID)}
		}
		return rowCheck{err: "student lookup failed"}
	}

	if row.DeviceID == "" {
		return rowCheck{err: "device_id required"}
	}
	device, err := s.devices.FindByDeviceID(ctx, row.DeviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return rowCheck{err: fmt.Sprintf("device %s not found", row.DeviceID)}
		}
		return rowCheck{err: "device lookup failed"}
	}
	if device.Status != models.DeviceStatusActive {
		return rowCheck{err: fmt.Sprintf("device %s is %s", row.DeviceID, device.Status)}
	}

	if row.FingerprintID < 0 || row.FingerprintID > models.MaxFingerprintID {
		return rowCheck{err: fmt.Sprintf("fingerprint_id must be between 0 and %d", models.MaxFingerprintID)}
	}

	var check rowCheck
	existing, err := s.repo.FindBySlot(ctx, row.DeviceID, row.FingerprintID)
	if err != nil && err != sql.ErrNoRows {
		return rowCheck{err: "slot lookup failed"}
	}
	if existing != nil {
		switch {
		case existing.EnrollmentStatus == models.EnrollmentStatusFailed:
			// Failed captures free the slot for another attempt.
			check.existing = existing
		case existing.StudentID == row.StudentID:
			return rowCheck{err: "student already mapped to this slot"}
		default:
			return rowCheck{err: fmt.Sprintf("slot already mapped to student %s", existing.StudentID)}
		}
	}

	others, err := s.repo.ListByStudent(ctx, row.StudentID)
	if err != nil {
		s.logger.Warn("cross-device lookup failed", zap.String("student_id", row.StudentID), zap.Error(err))
	} else {
		for _, other := range others {
			if other.DeviceID != row.DeviceID {
				check.warnings = append(check.warnings, fmt.Sprintf("student also mapped on device %s", other.DeviceID))
				break
			}
		}
	}
	return check
}

func joinRows(rows []int) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = fmt.Sprintf("%d", row)
	}
	return strings.Join(parts, ", ")
}
