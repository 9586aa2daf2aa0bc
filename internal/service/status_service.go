package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type checkRecordRepository interface {
	Insert(ctx context.Context, record *models.CheckRecord) error
	BatchInsert(ctx context.Context, records []models.CheckRecord) error
	ListStatuses(ctx context.Context, dayStart, dayEnd time.Time, filter models.StatusFilter) ([]models.StudentStatus, error)
	GetStudentStatus(ctx context.Context, studentID string, dayStart, dayEnd time.Time) (*models.StudentStatus, error)
	ListByStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.CheckRecord, error)
	LeaveHistory(ctx context.Context, dayStart, dayEnd time.Time) ([]models.LeaveHistoryRow, error)
}

type studentReader interface {
	FindByStudentID(ctx context.Context, studentID string) (*models.Student, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// dayWindow resolves a YYYY-MM-DD string to its local [start, end) window.
// An empty date means today.
func dayWindow(date string) (time.Time, time.Time, error) {
	var day time.Time
	if date == "" {
		now := time.Now()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
		}
		day = parsed
	}
	return day, day.AddDate(0, 0, 1), nil
}

// SetStatusRequest is the manual status override payload.
type SetStatusRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Status    string `json:"status" validate:"required"`
	DeviceID  string `json:"device_id"`
}

// BatchLeaveResult reports the outcome of a bulk 请假 append.
type BatchLeaveResult struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// StatusService derives and mutates bed-presence status.
type StatusService struct {
	records   checkRecordRepository
	students  studentReader
	audit     auditWriter
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	statusTTL time.Duration
}

// NewStatusService constructs StatusService.
func NewStatusService(records checkRecordRepository, students studentReader, audit auditWriter, cache *CacheService, metrics *MetricsService, statusTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *StatusService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if statusTTL <= 0 {
		statusTTL = 2 * time.Minute
	}
	return &StatusService{records: records, students: students, audit: audit, cache: cache, metrics: metrics, statusTTL: statusTTL, validator: validate, logger: logger}
}

func statusCacheKey(dayStart time.Time, filter models.StatusFilter) string {
	return fmt.Sprintf("status:%s:%d:%s:%d:%s:%s:%s:%s:%s",
		dayStart.Format("2006-01-02"), filter.Building, filter.BuildingArea, filter.BuildingFloor,
		filter.ClassName, filter.Counselor, filter.Status, filter.StudentID, filter.Search)
}

// ListByDate returns every matching student with their status derived for the
// date. Cached per date and filter combination.
func (s *StatusService) ListByDate(ctx context.Context, date string, filter models.StatusFilter) ([]models.StudentStatus, error) {
	dayStart, dayEnd, err := dayWindow(date)
	if err != nil {
		return nil, err
	}

	key := statusCacheKey(dayStart, filter)
	var cached []models.StudentStatus
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	statuses, err := s.records.ListStatuses(ctx, dayStart, dayEnd, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list statuses")
	}
	if err := s.cache.Set(ctx, key, statuses, s.statusTTL); err != nil {
		s.logger.Warn("status cache write failed", zap.Error(err))
	}
	return statuses, nil
}

// CurrentStatus derives one student's status for the date.
func (s *StatusService) CurrentStatus(ctx context.Context, studentID, date string) (*models.StudentStatus, error) {
	dayStart, dayEnd, err := dayWindow(date)
	if err != nil {
		return nil, err
	}
	status, err := s.records.GetStudentStatus(ctx, studentID, dayStart, dayEnd)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to derive status")
	}
	return status, nil
}

// SetStatus appends a manual override record at now.
func (s *StatusService) SetStatus(ctx context.Context, req SetStatusRequest, operatorID string) (*models.CheckRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	status := models.CheckStatus(req.Status)
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported status value")
	}
	if _, err := s.students.FindByStudentID(ctx, req.StudentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	record := &models.CheckRecord{
		StudentID:  req.StudentID,
		Status:     status,
		CheckTime:  time.Now(),
		RecordedBy: &operatorID,
	}
	if req.DeviceID != "" {
		record.DeviceID = &req.DeviceID
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append check record")
	}
	s.metrics.RecordCheckin("manual", status)
	s.invalidateStatusCaches(ctx)
	s.writeAudit(ctx, operatorID, models.AuditActionStatusUpdate, req.StudentID, map[string]interface{}{"status": status})
	return record, nil
}

// CancelLeave appends a 在寝 record superseding the 请假 record for a date.
// For today the record lands at now; for any other date at the very end of
// that day, so it wins the (check_time, id) comparison without bleeding into
// neighbouring dates. Leave applications are left untouched.
func (s *StatusService) CancelLeave(ctx context.Context, studentID, date, operatorID string) (*models.CheckRecord, error) {
	if _, err := s.students.FindByStudentID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	dayStart, _, err := dayWindow(date)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	checkTime := now
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	if !dayStart.Equal(today) {
		// AddDate keeps the record inside the target date on DST-shifted days.
		checkTime = dayStart.AddDate(0, 0, 1).Add(-time.Second)
	}

	record := &models.CheckRecord{
		StudentID:  studentID,
		Status:     models.CheckStatusPresent,
		CheckTime:  checkTime,
		RecordedBy: &operatorID,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append check record")
	}
	s.metrics.RecordCheckin("manual", models.CheckStatusPresent)
	s.invalidateStatusCaches(ctx)
	s.writeAudit(ctx, operatorID, models.AuditActionLeaveCancel, studentID, map[string]interface{}{"date": dayStart.Format("2006-01-02")})
	return record, nil
}

// BatchSetLeave appends 请假 at now for each student. Failures are collected
// per student, earlier successes stay committed.
func (s *StatusService) BatchSetLeave(ctx context.Context, studentIDs []string, operatorID string) (*BatchLeaveResult, error) {
	if len(studentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_ids required")
	}
	result := &BatchLeaveResult{}
	now := time.Now()
	for _, studentID := range studentIDs {
		if _, err := s.students.FindByStudentID(ctx, studentID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: student not found", studentID))
			continue
		}
		record := &models.CheckRecord{
			StudentID:  studentID,
			Status:     models.CheckStatusOnLeave,
			CheckTime:  now,
			RecordedBy: &operatorID,
		}
		if err := s.records.Insert(ctx, record); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: write failed", studentID))
			continue
		}
		s.metrics.RecordCheckin("manual", models.CheckStatusOnLeave)
		result.Success++
	}
	s.invalidateStatusCaches(ctx)
	s.writeAudit(ctx, operatorID, models.AuditActionBatchLeave, "", map[string]interface{}{"success": result.Success, "failed": result.Failed})
	return result, nil
}

// History returns a student's raw records over the trailing number of days.
func (s *StatusService) History(ctx context.Context, studentID string, days int) ([]models.CheckRecord, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	if _, err := s.students.FindByStudentID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	to := time.Now()
	from := to.AddDate(0, 0, -days)
	records, err := s.records.ListByStudent(ctx, studentID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list history")
	}
	return records, nil
}

// LeaveHistory lists students who held a 请假 record on the date, with their
// end-of-day status and returned flag.
func (s *StatusService) LeaveHistory(ctx context.Context, date string) ([]models.LeaveHistoryRow, error) {
	dayStart, dayEnd, err := dayWindow(date)
	if err != nil {
		return nil, err
	}
	rows, err := s.records.LeaveHistory(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list leave history")
	}
	return rows, nil
}

func (s *StatusService) invalidateStatusCaches(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "status:*"); err != nil {
		s.logger.Warn("status cache invalidation failed", zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, "stats:*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func (s *StatusService) writeAudit(ctx context.Context, operatorID, action, resourceID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	log := &models.AuditLog{
		UserID:    &operatorID,
		Action:    action,
		Resource:  "check_records",
		NewValues: payload,
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
