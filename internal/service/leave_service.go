package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type leaveRepository interface {
	Create(ctx context.Context, app *models.LeaveApplication) error
	FindByID(ctx context.Context, id string) (*models.LeaveApplicationDetail, error)
	List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveApplicationDetail, error)
	UpdateStatusIfPending(ctx context.Context, id string, status models.LeaveStatus, reviewerID *string, reviewTime time.Time) error
	ApproveWithRecords(ctx context.Context, id string, reviewerID string, reviewTime time.Time, records []models.CheckRecord) error
	HasPending(ctx context.Context, studentID string) (bool, error)
	CountSince(ctx context.Context, studentID string, since time.Time) (int, error)
}

type captchaVerifier interface {
	Verify(ctx context.Context, id, answer string) error
}

type rateCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// SubmitLeaveRequest is the student self-service submission payload.
type SubmitLeaveRequest struct {
	StudentID   string   `json:"student_id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	LeaveDates  []string `json:"leave_dates" validate:"required,min=1"`
	Reason      string   `json:"reason" validate:"required,max=500"`
	CaptchaID   string   `json:"captcha_id" validate:"required"`
	CaptchaCode string   `json:"captcha_code" validate:"required"`
}

// VerifyStudentRequest is the identity check payload.
type VerifyStudentRequest struct {
	StudentID   string `json:"student_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	CaptchaID   string `json:"captcha_id" validate:"required"`
	CaptchaCode string `json:"captcha_code" validate:"required"`
}

// LeaveService runs the leave application workflow.
type LeaveService struct {
	repo       leaveRepository
	students   studentReader
	captcha    captchaVerifier
	limiter    rateCounter
	audit      auditWriter
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
	rateLimit  int
	rateWindow time.Duration
}

// NewLeaveService constructs LeaveService.
func NewLeaveService(repo leaveRepository, students studentReader, captcha captchaVerifier, limiter rateCounter, audit auditWriter, cache *CacheService, rateLimit int, rateWindow time.Duration, validate *validator.Validate, logger *zap.Logger) *LeaveService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rateLimit <= 0 {
		rateLimit = 5
	}
	if rateWindow <= 0 {
		rateWindow = time.Hour
	}
	return &LeaveService{repo: repo, students: students, captcha: captcha, limiter: limiter, audit: audit, cache: cache, rateLimit: rateLimit, rateWindow: rateWindow, validator: validate, logger: logger}
}

// VerifyStudent runs the captcha-gated identity check and returns the
// matched student. This is the only authentication the self-service form has.
func (s *LeaveService) VerifyStudent(ctx context.Context, req VerifyStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}
	if err := s.captcha.Verify(ctx, req.CaptchaID, req.CaptchaCode); err != nil {
		return nil, err
	}
	return s.matchIdentity(ctx, req.StudentID, req.Name)
}

// Submit creates a pending application after captcha, identity, date,
// duplicate and rate-limit checks. There is no cross-request lock: two
// simultaneous submissions can both pass the checks, which review tolerates.
func (s *LeaveService) Submit(ctx context.Context, req SubmitLeaveRequest) (*models.LeaveApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid leave payload")
	}
	if err := s.captcha.Verify(ctx, req.CaptchaID, req.CaptchaCode); err != nil {
		return nil, err
	}
	if _, err := s.matchIdentity(ctx, req.StudentID, req.Name); err != nil {
		return nil, err
	}

	dates, err := normaliseLeaveDates(req.LeaveDates)
	if err != nil {
		return nil, err
	}

	pending, err := s.repo.HasPending(ctx, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending applications")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending application already exists for this student")
	}

	if err := s.checkRateLimit(ctx, req.StudentID); err != nil {
		return nil, err
	}

	app := &models.LeaveApplication{
		StudentID:  req.StudentID,
		LeaveDates: dates,
		Reason:     req.Reason,
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create leave application")
	}
	return app, nil
}

// ListMine returns the student's own applications, newest first. Identity is
// re-checked on every call since the form has no session.
func (s *LeaveService) ListMine(ctx context.Context, studentID, name string) ([]models.LeaveApplicationDetail, error) {
	if _, err := s.matchIdentity(ctx, studentID, name); err != nil {
		return nil, err
	}
	apps, err := s.repo.List(ctx, models.LeaveFilter{StudentID: studentID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return apps, nil
}

// List returns applications for review screens. Counselor scoping happens in
// the handler by setting filter.Counselor.
func (s *LeaveService) List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveApplicationDetail, error) {
	apps, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return apps, nil
}

// Get returns one application with its student context.
func (s *LeaveService) Get(ctx context.Context, id string) (*models.LeaveApplicationDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return detail, nil
}

// Approve transitions a pending application to approved and materialises one
// 请假 record per requested date at 00:00:00 with no device. Future dates are
// pre-populated on purpose; daily reporting reads them the same way. The
// status flip and the record inserts commit together in one transaction.
func (s *LeaveService) Approve(ctx context.Context, id, reviewerID string) (*models.LeaveApplicationDetail, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Status != models.LeaveStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
	}

	records := make([]models.CheckRecord, 0, len(detail.LeaveDates))
	for _, date := range detail.LeaveDates {
		day, parseErr := time.ParseInLocation("2006-01-02", date, time.Local)
		if parseErr != nil {
			s.logger.Warn("stored leave date unparseable", zap.String("application", id), zap.String("date", date))
			continue
		}
		records = append(records, models.CheckRecord{
			StudentID:  detail.StudentID,
			Status:     models.CheckStatusOnLeave,
			CheckTime:  day,
			RecordedBy: &reviewerID,
		})
	}

	if err := s.repo.ApproveWithRecords(ctx, id, reviewerID, time.Now(), records); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve application")
	}

	s.invalidateStatusCaches(ctx)
	s.writeAudit(ctx, reviewerID, models.AuditActionLeaveApprove, id, map[string]interface{}{"student_id": detail.StudentID, "dates": detail.LeaveDates})
	return s.Get(ctx, id)
}

// Reject transitions a pending application to rejected. No record side effects.
func (s *LeaveService) Reject(ctx context.Context, id, reviewerID string) (*models.LeaveApplicationDetail, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Status != models.LeaveStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
	}
	if err := s.repo.UpdateStatusIfPending(ctx, id, models.LeaveStatusRejected, &reviewerID, time.Now()); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject application")
	}
	s.writeAudit(ctx, reviewerID, models.AuditActionLeaveReject, id, map[string]interface{}{"student_id": detail.StudentID})
	return s.Get(ctx, id)
}

// Cancel lets the owning student withdraw a pending application. The row is
// kept with status cancelled.
func (s *LeaveService) Cancel(ctx context.Context, id, studentID, name string) (*models.LeaveApplicationDetail, error) {
	if _, err := s.matchIdentity(ctx, studentID, name); err != nil {
		return nil, err
	}
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another student")
	}
	if detail.Status != models.LeaveStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
	}
	if err := s.repo.UpdateStatusIfPending(ctx, id, models.LeaveStatusCancelled, nil, time.Now()); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel application")
	}
	return s.Get(ctx, id)
}

func (s *LeaveService) matchIdentity(ctx context.Context, studentID, name string) (*models.Student, error) {
	student, err := s.students.FindByStudentID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrIdentityMismatch, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Name != name {
		return nil, appErrors.Clone(appErrors.ErrIdentityMismatch, "")
	}
	return student, nil
}

// checkRateLimit prefers the Redis counter and falls back to counting rows
// when Redis is unavailable.
func (s *LeaveService) checkRateLimit(ctx context.Context, studentID string) error {
	if s.limiter != nil {
		count, err := s.limiter.Increment(ctx, "leave:rate:"+studentID, s.rateWindow)
		if err == nil {
			if count > int64(s.rateLimit) {
				return appErrors.Clone(appErrors.ErrRateLimited, "")
			}
			return nil
		}
		s.logger.Warn("rate limiter unavailable, falling back to row count", zap.Error(err))
	}
	count, err := s.repo.CountSince(ctx, studentID, time.Now().Add(-s.rateWindow))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check submission rate")
	}
	if count >= s.rateLimit {
		return appErrors.Clone(appErrors.ErrRateLimited, "")
	}
	return nil
}

func normaliseLeaveDates(raw []string) (models.LeaveDates, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

	seen := make(map[string]bool, len(raw))
	dates := make([]string, 0, len(raw))
	for _, value := range raw {
		day, err := time.ParseInLocation("2006-01-02", value, time.Local)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid leave date, expected YYYY-MM-DD")
		}
		if day.Before(today) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "leave dates must not be in the past")
		}
		canonical := day.Format("2006-01-02")
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		dates = append(dates, canonical)
	}
	sort.Strings(dates)
	return models.LeaveDates(dates), nil
}

func (s *LeaveService) invalidateStatusCaches(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "status:*"); err != nil {
		s.logger.Warn("status cache invalidation failed", zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, "stats:*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func (s *LeaveService) writeAudit(ctx context.Context, operatorID, action, resourceID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	log := &models.AuditLog{
		UserID:   &operatorID,
		Action:   action,
		Resource: "leave_applications",
	}
	log.NewValues = payload
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
