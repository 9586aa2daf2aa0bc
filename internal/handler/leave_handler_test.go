package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/middleware"
	"github.com/dormtrack/roomcheck-api/internal/models"
	"github.com/dormtrack/roomcheck-api/internal/service"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type fakeLeaveRepo struct {
	created    []*models.LeaveApplication
	listFilter models.LeaveFilter
}

func (f *fakeLeaveRepo) Create(_ context.Context, app *models.LeaveApplication) error {
	app.ID = fmt.Sprintf("leave-%d", len(f.created)+1)
	if app.Status == "" {
		app.Status = models.LeaveStatusPending
	}
	f.created = append(f.created, app)
	return nil
}

func (f *fakeLeaveRepo) FindByID(_ context.Context, id string) (*models.LeaveApplicationDetail, error) {
	return nil, sql.ErrNoRows
}

func (f *fakeLeaveRepo) List(_ context.Context, filter models.LeaveFilter) ([]models.LeaveApplicationDetail, error) {
	f.listFilter = filter
	return nil, nil
}

func (f *fakeLeaveRepo) UpdateStatusIfPending(_ context.Context, _ string, _ models.LeaveStatus, _ *string, _ time.Time) error {
	return sql.ErrNoRows
}

func (f *fakeLeaveRepo) ApproveWithRecords(_ context.Context, _ string, _ string, _ time.Time, _ []models.CheckRecord) error {
	return sql.ErrNoRows
}

func (f *fakeLeaveRepo) HasPending(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeLeaveRepo) CountSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

type fakeStudentReader struct {
	students map[string]*models.Student
}

func (f *fakeStudentReader) FindByStudentID(_ context.Context, studentID string) (*models.Student, error) {
	student, ok := f.students[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

type fakeAuditWriter struct{}

func (fakeAuditWriter) CreateAuditLog(_ context.Context, _ *models.AuditLog) error { return nil }

type fakeRateCounter struct{}

func (fakeRateCounter) Increment(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// memoryStore backs the captcha service so tests can read issued codes.
type memoryStore struct {
	values map[string]string
}

func (m *memoryStore) SetString(_ context.Context, key, value string, _ time.Duration) error {
	m.values[key] = value
	return nil
}

func (m *memoryStore) TakeString(_ context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", appErrors.ErrCacheMiss
	}
	delete(m.values, key)
	return value, nil
}

func buildLeaveRouter(t *testing.T) (*gin.Engine, *fakeLeaveRepo, *memoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memoryStore{values: map[string]string{}}
	captchaSvc := service.NewCaptchaService(store, time.Minute, 4, zap.NewNop())

	repo := &fakeLeaveRepo{}
	students := &fakeStudentReader{students: map[string]*models.Student{
		"2021001": {StudentID: "2021001", Name: "王小明", Building: 3, RoomNumber: "302", BedNumber: "1"},
	}}
	leaveSvc := service.NewLeaveService(repo, students, captchaSvc, fakeRateCounter{},
		fakeAuditWriter{}, nil, 5, time.Hour, nil, zap.NewNop())

	h := NewLeaveHandler(leaveSvc, captchaSvc)
	router := gin.New()
	router.GET("/leave/captcha", h.NewCaptcha)
	router.POST("/leave/verify", h.VerifyStudent)
	router.POST("/leave", h.Submit)
	return router, repo, store
}

func buildLeaveAdminRouter(t *testing.T, claims *models.JWTClaims) (*gin.Engine, *fakeLeaveRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memoryStore{values: map[string]string{}}
	captchaSvc := service.NewCaptchaService(store, time.Minute, 4, zap.NewNop())

	repo := &fakeLeaveRepo{}
	leaveSvc := service.NewLeaveService(repo, &fakeStudentReader{}, captchaSvc, fakeRateCounter{},
		fakeAuditWriter{}, nil, 5, time.Hour, nil, zap.NewNop())

	h := NewLeaveHandler(leaveSvc, captchaSvc)
	router := gin.New()
	router.GET("/leave/admin", func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, claims)
	}, h.List)
	return router, repo
}

func issueCaptcha(t *testing.T, router *gin.Engine, store *memoryStore) (id, code string) {
	t.Helper()
	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/leave/captcha", nil)
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			CaptchaID string `json:"captcha_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.CaptchaID)

	code, ok := store.values["captcha:"+body.Data.CaptchaID]
	require.True(t, ok)
	return body.Data.CaptchaID, code
}

func TestLeaveSubmitFlow(t *testing.T) {
	router, repo, store := buildLeaveRouter(t)
	captchaID, code := issueCaptcha(t, router, store)

	date := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	payload, _ := json.Marshal(map[string]interface{}{
		"student_id":   "2021001",
		"name":         "王小明",
		"leave_dates":  []string{date},
		"reason":       "回家看病",
		"captcha_id":   captchaID,
		"captcha_code": code,
	})

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/leave", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Len(t, repo.created, 1)
	require.Equal(t, models.LeaveStatusPending, repo.created[0].Status)
	require.Contains(t, resp.Body.String(), `"student_id":"2021001"`)
}

func TestLeaveSubmitRejectsWrongCaptcha(t *testing.T) {
	router, repo, store := buildLeaveRouter(t)
	captchaID, _ := issueCaptcha(t, router, store)

	date := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	payload, _ := json.Marshal(map[string]interface{}{
		"student_id":   "2021001",
		"name":         "王小明",
		"leave_dates":  []string{date},
		"reason":       "回家看病",
		"captcha_id":   captchaID,
		"captcha_code": "0000",
	})

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/leave", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "CAPTCHA_INVALID")
	require.Empty(t, repo.created)
}

func TestLeaveVerifyUnknownStudent(t *testing.T) {
	router, _, store := buildLeaveRouter(t)
	captchaID, code := issueCaptcha(t, router, store)

	payload, _ := json.Marshal(map[string]interface{}{
		"student_id":   "9999999",
		"name":         "佚名",
		"captcha_id":   captchaID,
		"captcha_code": code,
	})

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/leave/verify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Contains(t, resp.Body.String(), "IDENTITY_MISMATCH")
}

func TestLeaveAdminListScopedToCounselor(t *testing.T) {
	router, repo := buildLeaveAdminRouter(t, &models.JWTClaims{
		UserID:   "u-1",
		Role:     models.RoleCounselor,
		Username: "counselor1",
		FullName: "刘老师",
	})

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/leave/admin?counselor=别人", nil)
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "刘老师", repo.listFilter.Counselor)
}

func TestLeaveAdminListAdminKeepsCounselorFilter(t *testing.T) {
	router, repo := buildLeaveAdminRouter(t, &models.JWTClaims{
		UserID:   "u-2",
		Role:     models.RoleAdmin,
		Username: "admin",
		FullName: "管理员",
	})

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/leave/admin?counselor=刘老师", nil)
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "刘老师", repo.listFilter.Counselor)
}
