package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type mockRecordRepo struct {
	statuses      []models.StudentStatus
	listCalls     int
	inserted      []models.CheckRecord
	insertErr     error
	history       []models.CheckRecord
	historyFrom   time.Time
	historyTo     time.Time
	leaveRows     []models.LeaveHistoryRow
	batchInserted [][]models.CheckRecord
}

func (m *mockRecordRepo) Insert(_ context.Context, record *models.CheckRecord) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, *record)
	return nil
}

func (m *mockRecordRepo) BatchInsert(_ context.Context, records []models.CheckRecord) error {
	m.batchInserted = append(m.batchInserted, records)
	return nil
}

func (m *mockRecordRepo) ListStatuses(_ context.Context, _, _ time.Time, _ models.StatusFilter) ([]models.StudentStatus, error) {
	m.listCalls++
	return m.statuses, nil
}

func (m *mockRecordRepo) GetStudentStatus(_ context.Context, _ string, _, _ time.Time) (*models.StudentStatus, error) {
	if len(m.statuses) == 0 {
		return nil, sql.ErrNoRows
	}
	return &m.statuses[0], nil
}

func (m *mockRecordRepo) ListByStudent(_ context.Context, _ string, from, to time.Time) ([]models.CheckRecord, error) {
	m.historyFrom = from
	m.historyTo = to
	return m.history, nil
}

func (m *mockRecordRepo) LeaveHistory(_ context.Context, _, _ time.Time) ([]models.LeaveHistoryRow, error) {
	return m.leaveRows, nil
}

type mockStudentReader struct {
	students map[string]*models.Student
}

func (m *mockStudentReader) FindByStudentID(_ context.Context, studentID string) (*models.Student, error) {
	student, ok := m.students[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

type mockAuditWriter struct {
	logs []models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

type stubCacheStore struct {
	store map[string][]byte
}

func (s *stubCacheStore) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheStore) DeleteByPattern(_ context.Context, _ string) error {
	s.store = nil
	return nil
}

func newStatusService(records *mockRecordRepo, students *mockStudentReader, audit *mockAuditWriter, cache *CacheService) *StatusService {
	if cache == nil {
		cache = NewCacheService(nil, nil, time.Minute, zap.NewNop(), false)
	}
	// A typed-nil *mockAuditWriter would slip past the service's nil guard
	// as a non-nil interface, so substitute a real writer.
	if audit == nil {
		audit = &mockAuditWriter{}
	}
	return NewStatusService(records, students, audit, cache, nil, time.Minute, nil, zap.NewNop())
}

func TestStatusServiceListByDateCaches(t *testing.T) {
	records := &mockRecordRepo{statuses: []models.StudentStatus{{Status: models.CheckStatusPresent}}}
	cache := NewCacheService(&stubCacheStore{}, nil, time.Minute, zap.NewNop(), true)
	svc := newStatusService(records, &mockStudentReader{}, nil, cache)

	ctx := context.Background()
	first, err := svc.ListByDate(ctx, "2026-03-10", models.StatusFilter{Building: 3})
	require.NoError(t, err)
	assert.Len(t, first, 1)
	assert.Equal(t, 1, records.listCalls)

	second, err := svc.ListByDate(ctx, "2026-03-10", models.StatusFilter{Building: 3})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, records.listCalls)

	// A different filter misses the cache.
	_, err = svc.ListByDate(ctx, "2026-03-10", models.StatusFilter{Building: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, records.listCalls)
}

func TestStatusServiceListByDateRejectsBadDate(t *testing.T) {
	svc := newStatusService(&mockRecordRepo{}, &mockStudentReader{}, nil, nil)
	_, err := svc.ListByDate(context.Background(), "10/03/2026", models.StatusFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStatusServiceSetStatusAppendsRecord(t *testing.T) {
	records := &mockRecordRepo{}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001", Name: "张三"}}}
	audit := &mockAuditWriter{}
	svc := newStatusService(records, students, audit, nil)

	record, err := svc.SetStatus(context.Background(), SetStatusRequest{StudentID: "2021001", Status: "离寝"}, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusOut, record.Status)
	require.Len(t, records.inserted, 1)
	require.NotNil(t, records.inserted[0].RecordedBy)
	assert.Equal(t, "op-1", *records.inserted[0].RecordedBy)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionStatusUpdate, audit.logs[0].Action)
}

func TestStatusServiceSetStatusRejectsUnknownValue(t *testing.T) {
	svc := newStatusService(&mockRecordRepo{}, &mockStudentReader{}, nil, nil)
	_, err := svc.SetStatus(context.Background(), SetStatusRequest{StudentID: "2021001", Status: "missing"}, "op-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStatusServiceCancelLeavePastDateLandsAtEndOfDay(t *testing.T) {
	records := &mockRecordRepo{}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001"}}}
	audit := &mockAuditWriter{}
	svc := newStatusService(records, students, audit, nil)

	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	record, err := svc.CancelLeave(context.Background(), "2021001", yesterday, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusPresent, record.Status)

	dayStart, _ := time.ParseInLocation("2006-01-02", yesterday, time.Local)
	assert.Equal(t, dayStart.AddDate(0, 0, 1).Add(-time.Second), record.CheckTime)
	assert.True(t, record.CheckTime.Before(dayStart.AddDate(0, 0, 1)))

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLeaveCancel, audit.logs[0].Action)
}

func TestStatusServiceCancelLeaveTodayUsesNow(t *testing.T) {
	records := &mockRecordRepo{}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001"}}}
	svc := newStatusService(records, students, nil, nil)

	record, err := svc.CancelLeave(context.Background(), "2021001", "", "op-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), record.CheckTime, 5*time.Second)
}

func TestStatusServiceBatchSetLeavePartialSuccess(t *testing.T) {
	records := &mockRecordRepo{}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001"}}}
	svc := newStatusService(records, students, nil, nil)

	result, err := svc.BatchSetLeave(context.Background(), []string{"2021001", "9999999"}, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "9999999")
	require.Len(t, records.inserted, 1)
	assert.Equal(t, models.CheckStatusOnLeave, records.inserted[0].Status)
}

func TestStatusServiceHistoryClampsRange(t *testing.T) {
	records := &mockRecordRepo{}
	students := &mockStudentReader{students: map[string]*models.Student{"2021001": {StudentID: "2021001"}}}
	svc := newStatusService(records, students, nil, nil)

	_, err := svc.History(context.Background(), "2021001", 365)
	require.NoError(t, err)
	span := records.historyTo.Sub(records.historyFrom)
	assert.InDelta(t, (7 * 24 * time.Hour).Hours(), span.Hours(), 1)
}
