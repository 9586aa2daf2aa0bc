package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
)

type mockFingerprintRepo struct {
	slots      map[string]*models.FingerprintMapping
	byStudent  map[string][]models.FingerprintMapping
	created    []models.FingerprintMapping
	reassigned []string
}

func slotKey(deviceID string, fingerprintID int) string {
	return fmt.Sprintf("%s#%d", deviceID, fingerprintID)
}

func (m *mockFingerprintRepo) List(_ context.Context, _ models.FingerprintFilter) ([]models.FingerprintMappingDetail, int, error) {
	return nil, 0, nil
}

func (m *mockFingerprintRepo) FindBySlot(_ context.Context, deviceID string, fingerprintID int) (*models.FingerprintMapping, error) {
	mapping, ok := m.slots[slotKey(deviceID, fingerprintID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return mapping, nil
}

func (m *mockFingerprintRepo) FindByID(_ context.Context, id string) (*models.FingerprintMapping, error) {
	for _, mapping := range m.slots {
		if mapping.ID == id {
			return mapping, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockFingerprintRepo) ListByStudent(_ context.Context, studentID string) ([]models.FingerprintMapping, error) {
	return m.byStudent[studentID], nil
}

func (m *mockFingerprintRepo) Create(_ context.Context, mapping *models.FingerprintMapping) error {
	m.created = append(m.created, *mapping)
	return nil
}

func (m *mockFingerprintRepo) Reassign(_ context.Context, id, studentID string, _ *int) error {
	m.reassigned = append(m.reassigned, id)
	for _, mapping := range m.slots {
		if mapping.ID == id {
			mapping.StudentID = studentID
			mapping.EnrollmentStatus = models.EnrollmentStatusPending
		}
	}
	return nil
}

func (m *mockFingerprintRepo) UpdateEnrollmentStatus(_ context.Context, _ string, _ int, _ models.EnrollmentStatus) error {
	return nil
}

func (m *mockFingerprintRepo) Delete(_ context.Context, _ string) error {
	return nil
}

func (m *mockFingerprintRepo) ResolveStudent(_ context.Context, _ string, _ int) (*models.ResolvedStudent, error) {
	return nil, sql.ErrNoRows
}

type mockDeviceReader struct {
	devices map[string]*models.Device
}

func (m *mockDeviceReader) FindByDeviceID(_ context.Context, deviceID string) (*models.Device, error) {
	device, ok := m.devices[deviceID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return device, nil
}

func newFingerprintFixture() (*FingerprintService, *mockFingerprintRepo) {
	repo := &mockFingerprintRepo{slots: map[string]*models.FingerprintMapping{}, byStudent: map[string][]models.FingerprintMapping{}}
	students := &mockStudentReader{students: map[string]*models.Student{
		"2021001": {StudentID: "2021001", Name: "张三"},
		"2021002": {StudentID: "2021002", Name: "李四"},
		"2021003": {StudentID: "2021003", Name: "王五"},
	}}
	devices := &mockDeviceReader{devices: map[string]*models.Device{
		"FP001-3-1": {DeviceID: "FP001-3-1", Status: models.DeviceStatusActive},
		"FP001-3-2": {DeviceID: "FP001-3-2", Status: models.DeviceStatusInactive},
	}}
	return NewFingerprintService(repo, students, devices, nil, zap.NewNop()), repo
}

func TestBatchImportAcceptsValidRows(t *testing.T) {
	svc, repo := newFingerprintFixture()

	result := svc.ImportBatch(context.Background(), []models.MappingRow{
		{Row: 2, StudentID: "2021001", DeviceID: "FP001-3-1", FingerprintID: 1},
		{Row: 3, StudentID: "2021002", DeviceID: "FP001-3-1", FingerprintID: 2},
	})
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 0, result.Rejected)
	assert.Len(t, repo.created, 2)
}

func TestBatchImportDuplicatePairFailsAllOccurrences(t *testing.T) {
	svc, repo := newFingerprintFixture()

	result := svc.ImportBatch(context.Background(), []models.MappingRow{
		{Row: 2, StudentID: "2021001", DeviceID: "FP001-3-1", FingerprintID: 1},
		{Row: 3, StudentID: "2021002", DeviceID: "FP001-3-1", FingerprintID: 1},
		{Row: 4, StudentID: "2021003", DeviceID: "FP001-3-1", FingerprintID: 2},
	})
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 2, result.Rejected)
	assert.Len(t, repo.created, 1)

	for _, rowResult := range result.Rows {
		if rowResult.Row == 4 {
			assert.Equal(t, models.RowAccepted, rowResult.Outcome)
			continue
		}
		assert.Equal(t, models.RowRejected, rowResult.Outcome)
		assert.Contains(t, rowResult.Error, "2, 3")
	}
}

func TestBatchImportDuplicateStudentFailsAllOccurrences(t *testing.T) {
	svc, _ := newFingerprintFixture()

	result := svc.ImportBatch(context.Background(), []models.MappingRow{
		{Row: 2, StudentID: "2021001", DeviceID: "FP001-3-1", FingerprintID: 1},
		{Row: 3, StudentID: "2021001", DeviceID: "FP001-3-1", FingerprintID: 2},
	})
	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 2, result.Rejected)
	for _, rowResult := range result.Rows {
		assert.Contains(t, rowResult.Error, "duplicate student_id")
	}
}

func TestBatchImportRejectsInactiveDeviceAndBadSlot(t *testing.T) {
	svc, _ := newFingerprintFixture()

	result := svc.ImportBatch(context.Background(), []models.MappingRow{
		{Row: 2, StudentID: "2021001", DeviceID: "FP001-3-2", FingerprintID: 1},
		{Row: 3, StudentID: "2021002", DeviceID: "FP001-3-1", FingerprintID: models.MaxFingerprintID + 1},
		{Row: 4, StudentID: "9999999", DeviceID: "FP001-3-1", FingerprintID: 2},
	})
	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 3, result.Rejected)
	assert.Contains(t, result.Rows[0].Error, "inactive")
	assert.Contains(t, result.Rows[1].Error, "between 0 and 999")
	assert.Contains(t, result.Rows[2].Error, "not found")
}

func TestBatchImportOccupiedSlotRejectedFailedSlotReassigned(t *testing.T) {
	svc, repo := newFingerprintFixture()
	repo.slots[slotKey("FP001-3-1", 1)] = &models.FingerprintMapping{
		ID: "map-1", DeviceID: "FP001-3-1", FingerprintID: 1,
		StudentID: "2021003", EnrollmentStatus: models.EnrollmentStatusEnrolled,
	}
	repo.slots[slotKey("FP001-3-1", 2)] = &models.FingerprintMapping{
		ID: "map-2", DeviceID: "FP001-3-1", FingerprintID: 2,
		StudentID: "2021003", EnrollmentStatus: models.EnrollmentStatusFailed,
	}

	result := svc.ImportBatch(context.Background(), []models.MappingRow{
		{Row: 2, StudentID: "2021001", DeviceID: "FP001-3-1", FingerprintID: 1},
		{Row: 3, StudentID: "2021002", DeviceID: "FP001-3-1", FingerprintID: 2},
	})
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Rejected)
	assert.Contains(t, result.Rows[0].Error, "2021003")
	assert.True(t, result.Rows[1].Updated)
	assert.Equal(t, []string{"map-2"}, repo.reassigned)
}

func TestValidateBatchWritesNothing(t *testing.T) {
	svc, repo := newFingerprintFixture()

	result := svc.ValidateBatch(context.Background(), []models.MappingRow{
		{Row: 2, StudentID: "2021001", DeviceID: "FP001-3-1", FingerprintID: 1},
	})
	assert.Equal(t, 1, result.Accepted)
	assert.Empty(t, repo.created)
	assert.Empty(t, repo.reassigned)
}

func TestBatchImportCrossDeviceWarning(t *testing.T) {
	svc, repo := newFingerprintFixture()
	repo.byStudent["2021001"] = []models.FingerprintMapping{
		{DeviceID: "FP001-5-1", FingerprintID: 9, StudentID: "2021001"},
	}

	result := svc.ImportBatch(context.Background(), []models.MappingRow{
		{Row: 2, StudentID: "2021001", DeviceID: "FP001-3-1", FingerprintID: 1},
	})
	assert.Equal(t, 1, result.Accepted)
	require.Len(t, result.Rows, 1)
	require.NotEmpty(t, result.Rows[0].Warnings)
	assert.Contains(t, result.Rows[0].Warnings[0], "FP001-5-1")
}
