package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormtrack/roomcheck-api/internal/models"
)

func TestFingerprintRepositoryFindBySlot(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewFingerprintRepository(db)

	rows := sqlmock.NewRows([]string{"id", "device_id", "fingerprint_id", "student_id", "finger_index", "enrollment_status", "enrolled_at"}).
		AddRow("map-1", "FP001-1-1", 12, "20230001", nil, "enrolled", time.Now())

	mock.ExpectQuery("SELECT id, device_id, fingerprint_id, .* FROM fingerprint_mappings WHERE device_id = \\$1 AND fingerprint_id = \\$2").
		WithArgs("FP001-1-1", 12).
		WillReturnRows(rows)

	mapping, err := repo.FindBySlot(context.Background(), "FP001-1-1", 12)
	require.NoError(t, err)
	assert.Equal(t, "20230001", mapping.StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFingerprintRepositoryFindBySlotMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewFingerprintRepository(db)

	mock.ExpectQuery("SELECT id, device_id, fingerprint_id, .* FROM fingerprint_mappings").
		WithArgs("FP001-1-1", 13).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindBySlot(context.Background(), "FP001-1-1", 13)
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFingerprintRepositoryCreateDefaultsPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewFingerprintRepository(db)

	mock.ExpectExec("INSERT INTO fingerprint_mappings").
		WithArgs(sqlmock.AnyArg(), "FP001-1-1", 12, "20230001", sqlmock.AnyArg(), models.EnrollmentStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mapping := &models.FingerprintMapping{DeviceID: "FP001-1-1", FingerprintID: 12, StudentID: "20230001"}
	err := repo.Create(context.Background(), mapping)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, mapping.EnrollmentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFingerprintRepositoryResolveStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewFingerprintRepository(db)

	rows := sqlmock.NewRows([]string{"student_id", "name", "class_name", "fingerprint_id", "finger_index"}).
		AddRow("20230001", "张三", "计算机2301", 12, nil)

	mock.ExpectQuery("SELECT s.student_id, s.name, s.class_name, .* FROM fingerprint_mappings fm").
		WithArgs("FP001-1-1", 12).
		WillReturnRows(rows)

	resolved, err := repo.ResolveStudent(context.Background(), "FP001-1-1", 12)
	require.NoError(t, err)
	assert.Equal(t, "张三", resolved.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
