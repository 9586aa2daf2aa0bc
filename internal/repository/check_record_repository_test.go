package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormtrack/roomcheck-api/internal/models"
)

func TestCheckRecordRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCheckRecordRepository(db)

	mock.ExpectQuery("INSERT INTO check_records .* RETURNING id").
		WithArgs("20230001", models.CheckStatusPresent, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	record := &models.CheckRecord{StudentID: "20230001", Status: models.CheckStatusPresent, CheckTime: time.Now()}
	err := repo.Insert(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRecordRepositoryListStatusesDefaultsToUnchecked(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCheckRecordRepository(db)

	dayStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows := sqlmock.NewRows([]string{"id", "student_id", "name", "gender", "class_name", "building", "building_area", "building_floor", "room_number", "bed_number", "counselor", "counselor_tel", "created_at", "updated_at", "status", "check_time", "device_id"}).
		AddRow("uuid-1", "20230001", "张三", "男", "计算机2301", 1, "A", 3, "305", "2", "李老师", "13800000000", time.Now(), time.Now(), "未签到", nil, nil)

	mock.ExpectQuery("SELECT s.id, s.student_id, .* FROM students s").
		WithArgs(dayStart, dayEnd).
		WillReturnRows(rows)

	statuses, err := repo.ListStatuses(context.Background(), dayStart, dayEnd, models.StatusFilter{})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.CheckStatusUnchecked, statuses[0].Status)
	assert.Nil(t, statuses[0].CheckTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRecordRepositoryBuildingStats(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCheckRecordRepository(db)

	dayStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows := sqlmock.NewRows([]string{"building", "total", "present", "out", "on_leave", "not_checked"}).
		AddRow(1, 120, 80, 20, 10, 10).
		AddRow(2, 90, 60, 15, 5, 10)

	mock.ExpectQuery("SELECT s.building,").
		WithArgs(dayStart, dayEnd).
		WillReturnRows(rows)

	stats, err := repo.BuildingStats(context.Background(), dayStart, dayEnd)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 120, stats[0].Total)
	assert.Equal(t, 80, stats[0].Present)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRecordRepositoryBatchInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCheckRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO check_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO check_records").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	records := []models.CheckRecord{
		{StudentID: "20230001", Status: models.CheckStatusOnLeave, CheckTime: time.Now()},
		{StudentID: "20230001", Status: models.CheckStatusOnLeave, CheckTime: time.Now().AddDate(0, 0, 1)},
	}
	err := repo.BatchInsert(context.Background(), records)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
