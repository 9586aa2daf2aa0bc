package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dormtrack/roomcheck-api/internal/models"
)

// LeaveRepository manages leave applications.
type LeaveRepository struct {
	db *sqlx.DB
}

// NewLeaveRepository constructs a LeaveRepository.
func NewLeaveRepository(db *sqlx.DB) *LeaveRepository {
	return &LeaveRepository{db: db}
}

const leaveDetailColumns = `la.id, la.student_id, la.leave_dates, la.reason, la.status, la.apply_time,
        la.reviewer_id, la.review_time,
        s.name AS student_name, s.class_name, s.counselor,
        CONCAT(s.building, '号楼', s.building_area, '区', s.building_floor, '层', s.room_number, '-', s.bed_number, '床') AS dormitory,
        u.full_name AS reviewer_name`

const leaveDetailJoins = `FROM leave_applications la
        JOIN students s ON s.student_id = la.student_id
        LEFT JOIN users u ON u.id = la.reviewer_id`

// Create inserts a new pending application.
func (r *LeaveRepository) Create(ctx context.Context, app *models.LeaveApplication) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = models.LeaveStatusPending
	}
	if app.ApplyTime.IsZero() {
		app.ApplyTime = time.Now().UTC()
	}
	const query = `INSERT INTO leave_applications (id, student_id, leave_dates, reason, status, apply_time)
        VALUES (:id, :student_id, :leave_dates, :reason, :status, :apply_time)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create leave application: %w", err)
	}
	return nil
}

// FindByID fetches one application with student and reviewer context.
func (r *LeaveRepository) FindByID(ctx context.Context, id string) (*models.LeaveApplicationDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE la.id = $1", leaveDetailColumns, leaveDetailJoins)
	var detail models.LeaveApplicationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns applications matching the filter, newest submissions first.
func (r *LeaveRepository) List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveApplicationDetail, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("la.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Counselor != "" {
		conditions = append(conditions, fmt.Sprintf("s.counselor = $%d", len(args)+1))
		args = append(args, filter.Counselor)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("la.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY la.apply_time DESC",
		leaveDetailColumns, leaveDetailJoins, strings.Join(conditions, " AND "))

	var details []models.LeaveApplicationDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, fmt.Errorf("list leave applications: %w", err)
	}
	return details, nil
}

// UpdateStatusIfPending transitions a pending application to the given state.
// Returns sql.ErrNoRows when the application is missing or already reviewed,
// so concurrent reviews cannot double-apply.
func (r *LeaveRepository) UpdateStatusIfPending(ctx context.Context, id string, status models.LeaveStatus, reviewerID *string, reviewTime time.Time) error {
	const query = `UPDATE leave_applications
        SET status = $1, reviewer_id = $2, review_time = $3
        WHERE id = $4 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, status, reviewerID, reviewTime, id, models.LeaveStatusPending)
	if err != nil {
		return fmt.Errorf("update leave status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update leave status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApproveWithRecords transitions a pending application to approved and
// inserts its 请假 records in one transaction, so a crash cannot leave an
// approved application without records. Returns sql.ErrNoRows when the
// application is missing or already reviewed.
func (r *LeaveRepository) ApproveWithRecords(ctx context.Context, id string, reviewerID string, reviewTime time.Time, records []models.CheckRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE leave_applications
        SET status = $1, reviewer_id = $2, review_time = $3
        WHERE id = $4 AND status = $5`
	result, err := tx.ExecContext(ctx, update, models.LeaveStatusApproved, reviewerID, reviewTime, id, models.LeaveStatusPending)
	if err != nil {
		return fmt.Errorf("approve leave: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve leave rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	const insert = `INSERT INTO check_records (student_id, status, check_time, device_id, recorded_by)
        VALUES (:student_id, :status, :check_time, :device_id, :recorded_by)`
	for i := range records {
		if _, err := tx.NamedExecContext(ctx, insert, records[i]); err != nil {
			return fmt.Errorf("approve leave record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve: %w", err)
	}
	return nil
}

// HasPending reports whether a student already has an unreviewed application.
func (r *LeaveRepository) HasPending(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT 1 FROM leave_applications WHERE student_id = $1 AND status = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, models.LeaveStatusPending); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending leave: %w", err)
	}
	return true, nil
}

// CountSince counts a student's submissions after the cutoff, used as the
// durable fallback behind the Redis rate limiter.
func (r *LeaveRepository) CountSince(ctx context.Context, studentID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM leave_applications WHERE student_id = $1 AND apply_time >= $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, since); err != nil {
		return 0, fmt.Errorf("count leave submissions: %w", err)
	}
	return count, nil
}
