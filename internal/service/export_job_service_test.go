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
	"github.com/dormtrack/roomcheck-api/internal/repository"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
	"github.com/dormtrack/roomcheck-api/pkg/jobs"
)

type mockJobStore struct {
	jobs    map[string]*models.ExportJob
	updates []repository.UpdateExportJobParams
}

func (m *mockJobStore) Create(_ context.Context, job *models.ExportJob) error {
	if m.jobs == nil {
		m.jobs = make(map[string]*models.ExportJob)
	}
	if job.ID == "" {
		job.ID = "job-1"
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobStore) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (m *mockJobStore) Update(_ context.Context, id string, params repository.UpdateExportJobParams) error {
	m.updates = append(m.updates, params)
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockJobStore) ListQueued(_ context.Context, _ int) ([]models.ExportJob, error) {
	var queued []models.ExportJob
	for _, job := range m.jobs {
		if job.Status == models.ExportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (m *mockJobStore) ListFinishedBefore(_ context.Context, _ time.Time, _ int) ([]models.ExportJob, error) {
	return nil, nil
}

func (m *mockJobStore) ListByUser(_ context.Context, userID string, _ int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range m.jobs {
		if job.CreatedBy == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

type stubDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (s *stubDispatcher) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, job)
	return nil
}

type stubGenerator struct {
	result *ExportResult
	err    error
}

func (s *stubGenerator) Generate(_ context.Context, _ *models.ExportJob) (*ExportResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestExportJobCreateEnqueues(t *testing.T) {
	store := &mockJobStore{}
	queue := &stubDispatcher{}
	svc := NewExportJobService(store, queue, nil, nil, zap.NewNop(), ExportJobServiceConfig{})

	job, err := svc.CreateJob(context.Background(), ExportRequest{
		Type:   models.ExportTypeStatus,
		Format: models.ExportFormatCSV,
		Date:   "2026-03-10",
	}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
}

func TestExportJobCreateEnqueueFailureMarksJobFailed(t *testing.T) {
	store := &mockJobStore{}
	queue := &stubDispatcher{err: assert.AnError}
	svc := NewExportJobService(store, queue, nil, nil, zap.NewNop(), ExportJobServiceConfig{})

	_, err := svc.CreateJob(context.Background(), ExportRequest{
		Type:   models.ExportTypeStatus,
		Format: models.ExportFormatCSV,
	}, "user-1")
	require.Error(t, err)
	require.Len(t, store.jobs, 1)
	for _, job := range store.jobs {
		assert.Equal(t, models.ExportStatusFailed, job.Status)
		require.NotNil(t, job.FinishedAt)
	}
}

func TestExportJobStatusOwnership(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.ExportJob{
		"job-1": {ID: "job-1", CreatedBy: "user-1", Status: models.ExportStatusFinished},
	}}
	svc := NewExportJobService(store, &stubDispatcher{}, nil, nil, zap.NewNop(), ExportJobServiceConfig{})

	_, err := svc.GetStatus(context.Background(), "job-1", "user-2", models.RoleCounselor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	job, err := svc.GetStatus(context.Background(), "job-1", "user-2", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
}

func TestExportWorkerMarksFinished(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.ExportJob{
		"job-1": {ID: "job-1", Status: models.ExportStatusQueued, Params: models.ExportJobParams{Format: models.ExportFormatCSV}},
	}}
	gen := &stubGenerator{result: &ExportResult{URL: "/api/v1/exports/download/tok"}}
	worker := NewExportWorker(store, gen, 3, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1}))
	job := store.jobs["job-1"]
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "/api/v1/exports/download/tok", *job.ResultURL)
	require.NotNil(t, job.FinishedAt)
}

func TestExportWorkerRequeuesThenFails(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.ExportJob{
		"job-1": {ID: "job-1", Status: models.ExportStatusQueued},
	}}
	gen := &stubGenerator{err: assert.AnError}
	worker := NewExportWorker(store, gen, 2, zap.NewNop())

	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1}))
	assert.Equal(t, models.ExportStatusQueued, store.jobs["job-1"].Status)
	assert.Nil(t, store.jobs["job-1"].FinishedAt)

	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2}))
	assert.Equal(t, models.ExportStatusFailed, store.jobs["job-1"].Status)
	require.NotNil(t, store.jobs["job-1"].FinishedAt)
}
