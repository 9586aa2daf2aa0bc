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

func TestLeaveRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectExec("INSERT INTO leave_applications").
		WithArgs(sqlmock.AnyArg(), "20230001", sqlmock.AnyArg(), "家中有事", models.LeaveStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	app := &models.LeaveApplication{
		StudentID:  "20230001",
		LeaveDates: models.LeaveDates{"2024-03-01", "2024-03-02"},
		Reason:     "家中有事",
	}
	err := repo.Create(context.Background(), app)
	require.NoError(t, err)
	assert.NotEmpty(t, app.ID)
	assert.Equal(t, models.LeaveStatusPending, app.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRepositoryUpdateStatusIfPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	reviewer := "admin-1"
	mock.ExpectExec("UPDATE leave_applications").
		WithArgs(models.LeaveStatusApproved, &reviewer, sqlmock.AnyArg(), "app-1", models.LeaveStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatusIfPending(context.Background(), "app-1", models.LeaveStatusApproved, &reviewer, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRepositoryUpdateStatusAlreadyReviewed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectExec("UPDATE leave_applications").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatusIfPending(context.Background(), "app-1", models.LeaveStatusRejected, nil, time.Now())
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRepositoryApproveWithRecordsCommitsTogether(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	reviewer := "admin-1"
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leave_applications").
		WithArgs(models.LeaveStatusApproved, reviewer, sqlmock.AnyArg(), "app-1", models.LeaveStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO check_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO check_records").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	records := []models.CheckRecord{
		{StudentID: "20230001", Status: models.CheckStatusOnLeave, CheckTime: time.Now(), RecordedBy: &reviewer},
		{StudentID: "20230001", Status: models.CheckStatusOnLeave, CheckTime: time.Now().AddDate(0, 0, 1), RecordedBy: &reviewer},
	}
	err := repo.ApproveWithRecords(context.Background(), "app-1", reviewer, time.Now(), records)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRepositoryApproveWithRecordsRollsBackWhenReviewed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leave_applications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApproveWithRecords(context.Background(), "app-1", "admin-1", time.Now(), []models.CheckRecord{
		{StudentID: "20230001", Status: models.CheckStatusOnLeave, CheckTime: time.Now()},
	})
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveRepositoryHasPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectQuery("SELECT 1 FROM leave_applications").
		WithArgs("20230001", models.LeaveStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	pending, err := repo.HasPending(context.Background(), "20230001")
	require.NoError(t, err)
	assert.False(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}
