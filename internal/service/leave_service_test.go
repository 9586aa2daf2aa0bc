package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type mockLeaveRepo struct {
	created     []models.LeaveApplication
	details     map[string]*models.LeaveApplicationDetail
	updateErr   error
	updated     []models.LeaveStatus
	approved    [][]models.CheckRecord
	approveErr  error
	countSince  int
	countCalled bool
}

func (m *mockLeaveRepo) Create(_ context.Context, app *models.LeaveApplication) error {
	app.ID = "app-1"
	m.created = append(m.created, *app)
	return nil
}

func (m *mockLeaveRepo) FindByID(_ context.Context, id string) (*models.LeaveApplicationDetail, error) {
	detail, ok := m.details[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *detail
	return &copied, nil
}

func (m *mockLeaveRepo) List(_ context.Context, _ models.LeaveFilter) ([]models.LeaveApplicationDetail, error) {
	out := make([]models.LeaveApplicationDetail, 0, len(m.details))
	for _, detail := range m.details {
		out = append(out, *detail)
	}
	return out, nil
}

func (m *mockLeaveRepo) UpdateStatusIfPending(_ context.Context, id string, status models.LeaveStatus, reviewerID *string, reviewTime time.Time) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	detail, ok := m.details[id]
	if !ok || detail.Status != models.LeaveStatusPending {
		return sql.ErrNoRows
	}
	detail.Status = status
	detail.ReviewerID = reviewerID
	detail.ReviewTime = &reviewTime
	m.updated = append(m.updated, status)
	return nil
}

func (m *mockLeaveRepo) ApproveWithRecords(_ context.Context, id string, reviewerID string, reviewTime time.Time, records []models.CheckRecord) error {
	if m.approveErr != nil {
		return m.approveErr
	}
	detail, ok := m.details[id]
	if !ok || detail.Status != models.LeaveStatusPending {
		return sql.ErrNoRows
	}
	detail.Status = models.LeaveStatusApproved
	detail.ReviewerID = &reviewerID
	detail.ReviewTime = &reviewTime
	m.approved = append(m.approved, records)
	return nil
}

func (m *mockLeaveRepo) HasPending(_ context.Context, studentID string) (bool, error) {
	for _, detail := range m.details {
		if detail.StudentID == studentID && detail.Status == models.LeaveStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLeaveRepo) CountSince(_ context.Context, _ string, _ time.Time) (int, error) {
	m.countCalled = true
	return m.countSince, nil
}

type stubCaptcha struct {
	err   error
	calls int
}

func (s *stubCaptcha) Verify(_ context.Context, _, _ string) error {
	s.calls++
	return s.err
}

type stubLimiter struct {
	count int64
	err   error
}

func (s *stubLimiter) Increment(_ context.Context, _ string, _ time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.count++
	return s.count, nil
}

func newLeaveService(repo *mockLeaveRepo, students *mockStudentReader, captcha *stubCaptcha, limiter *stubLimiter) *LeaveService {
	cache := NewCacheService(nil, nil, time.Minute, zap.NewNop(), false)
	return NewLeaveService(repo, students, captcha, limiter, nil, cache, 5, time.Hour, nil, zap.NewNop())
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format("2006-01-02")
}

func TestLeaveServiceSubmitNormalisesDates(t *testing.T) {
	repo := &mockLeaveRepo{}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	svc := newLeaveService(repo, students, &stubCaptcha{}, &stubLimiter{})

	later := futureDate(3)
	sooner := futureDate(1)
	app, err := svc.Submit(context.Background(), SubmitLeaveRequest{
		StudentID:   "2021001",
		Name:        "张三",
		LeaveDates:  []string{later, sooner, sooner},
		Reason:      "回家",
		CaptchaID:   "c1",
		CaptchaCode: "ABCD",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LeaveDates{sooner, later}, app.LeaveDates)
	require.Len(t, repo.created, 1)
}

func TestLeaveServiceSubmitRejectsPastDates(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	svc := newLeaveService(&mockLeaveRepo{}, students, &stubCaptcha{}, &stubLimiter{})

	_, err := svc.Submit(context.Background(), SubmitLeaveRequest{
		StudentID:   "2021001",
		Name:        "张三",
		LeaveDates:  []string{time.Now().AddDate(0, 0, -1).Format("2006-01-02")},
		Reason:      "回家",
		CaptchaID:   "c1",
		CaptchaCode: "ABCD",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLeaveServiceSubmitIdentityMismatch(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	svc := newLeaveService(&mockLeaveRepo{}, students, &stubCaptcha{}, &stubLimiter{})

	_, err := svc.Submit(context.Background(), SubmitLeaveRequest{
		StudentID:   "2021001",
		Name:        "李四",
		LeaveDates:  []string{futureDate(1)},
		Reason:      "回家",
		CaptchaID:   "c1",
		CaptchaCode: "ABCD",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrIdentityMismatch.Code, appErrors.FromError(err).Code)
}

func TestLeaveServiceSubmitRejectsDuplicatePending(t *testing.T) {
	repo := &mockLeaveRepo{details: map[string]*models.LeaveApplicationDetail{
		"app-0": pendingDetail("app-0", "2021001", futureDate(2)),
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	svc := newLeaveService(repo, students, &stubCaptcha{}, &stubLimiter{})

	_, err := svc.Submit(context.Background(), SubmitLeaveRequest{
		StudentID:   "2021001",
		Name:        "张三",
		LeaveDates:  []string{futureDate(1)},
		Reason:      "回家",
		CaptchaID:   "c1",
		CaptchaCode: "ABCD",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestLeaveServiceSubmitRateLimited(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	limiter := &stubLimiter{count: 5}
	svc := newLeaveService(&mockLeaveRepo{}, students, &stubCaptcha{}, limiter)

	_, err := svc.Submit(context.Background(), SubmitLeaveRequest{
		StudentID:   "2021001",
		Name:        "张三",
		LeaveDates:  []string{futureDate(1)},
		Reason:      "回家",
		CaptchaID:   "c1",
		CaptchaCode: "ABCD",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRateLimited.Code, appErrors.FromError(err).Code)
}

func TestLeaveServiceSubmitRateLimitFallsBackToRowCount(t *testing.T) {
	repo := &mockLeaveRepo{countSince: 5}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	limiter := &stubLimiter{err: assert.AnError}
	svc := newLeaveService(repo, students, &stubCaptcha{}, limiter)

	_, err := svc.Submit(context.Background(), SubmitLeaveRequest{
		StudentID:   "2021001",
		Name:        "张三",
		LeaveDates:  []string{futureDate(1)},
		Reason:      "回家",
		CaptchaID:   "c1",
		CaptchaCode: "ABCD",
	})
	require.Error(t, err)
	assert.True(t, repo.countCalled)
	assert.Equal(t, appErrors.ErrRateLimited.Code, appErrors.FromError(err).Code)
}

func pendingDetail(id, studentID string, dates ...string) *models.LeaveApplicationDetail {
	return &models.LeaveApplicationDetail{
		LeaveApplication: models.LeaveApplication{
			ID:         id,
			StudentID:  studentID,
			LeaveDates: models.LeaveDates(dates),
			Status:     models.LeaveStatusPending,
			ApplyTime:  time.Now(),
		},
		StudentName: "张三",
	}
}

func TestLeaveServiceApproveWritesLeaveRecords(t *testing.T) {
	repo := &mockLeaveRepo{details: map[string]*models.LeaveApplicationDetail{
		"app-1": pendingDetail("app-1", "2021001", "2026-09-02", "2026-09-03"),
	}}
	audit := &mockAuditWriter{}
	cache := NewCacheService(nil, nil, time.Minute, zap.NewNop(), false)
	svc := NewLeaveService(repo, &mockStudentReader{}, &stubCaptcha{}, nil, audit, cache, 5, time.Hour, nil, zap.NewNop())

	detail, err := svc.Approve(context.Background(), "app-1", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, models.LeaveStatusApproved, detail.Status)

	require.Len(t, repo.approved, 1)
	require.Len(t, repo.approved[0], 2)
	first := repo.approved[0][0]
	assert.Equal(t, models.CheckStatusOnLeave, first.Status)
	assert.Nil(t, first.DeviceID)

	wantTime, _ := time.ParseInLocation("2006-01-02", "2026-09-02", time.Local)
	assert.Equal(t, wantTime, first.CheckTime)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLeaveApprove, audit.logs[0].Action)
}

func TestLeaveServiceApproveAlreadyReviewed(t *testing.T) {
	detail := pendingDetail("app-1", "2021001", "2026-09-02")
	detail.Status = models.LeaveStatusApproved
	repo := &mockLeaveRepo{details: map[string]*models.LeaveApplicationDetail{"app-1": detail}}
	svc := newLeaveService(repo, &mockStudentReader{}, &stubCaptcha{}, nil)

	_, err := svc.Approve(context.Background(), "app-1", "rev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.approved)
}

func TestLeaveServiceApproveLostRaceReportsReviewed(t *testing.T) {
	repo := &mockLeaveRepo{
		details: map[string]*models.LeaveApplicationDetail{
			"app-1": pendingDetail("app-1", "2021001", "2026-09-02"),
		},
		approveErr: sql.ErrNoRows,
	}
	svc := newLeaveService(repo, &mockStudentReader{}, &stubCaptcha{}, nil)

	_, err := svc.Approve(context.Background(), "app-1", "rev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)
}

func TestLeaveServiceRejectLeavesNoRecords(t *testing.T) {
	repo := &mockLeaveRepo{details: map[string]*models.LeaveApplicationDetail{
		"app-1": pendingDetail("app-1", "2021001", "2026-09-02"),
	}}
	svc := newLeaveService(repo, &mockStudentReader{}, &stubCaptcha{}, nil)

	detail, err := svc.Reject(context.Background(), "app-1", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, models.LeaveStatusRejected, detail.Status)
	assert.Empty(t, repo.approved)
}

func TestLeaveServiceCancelOwnershipEnforced(t *testing.T) {
	repo := &mockLeaveRepo{details: map[string]*models.LeaveApplicationDetail{
		"app-1": pendingDetail("app-1", "2021001", "2026-09-02"),
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"2021002": {StudentID: "2021002", Name: "李四"}}}
	svc := newLeaveService(repo, students, &stubCaptcha{}, nil)

	_, err := svc.Cancel(context.Background(), "app-1", "2021002", "李四")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestLeaveServiceVerifyStudentConsumesCaptchaFirst(t *testing.T) {
	captcha := &stubCaptcha{err: appErrors.Clone(appErrors.ErrCaptcha, "")}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	svc := newLeaveService(&mockLeaveRepo{}, students, captcha, nil)

	_, err := svc.VerifyStudent(context.Background(), VerifyStudentRequest{
		StudentID:   "2021001",
		Name:        "张三",
		CaptchaID:   "c1",
		CaptchaCode: "WRONG",
	})
	require.Error(t, err)
	assert.Equal(t, 1, captcha.calls)
	assert.Equal(t, appErrors.ErrCaptcha.Code, appErrors.FromError(err).Code)
}
