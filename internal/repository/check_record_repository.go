package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dormtrack/roomcheck-api/internal/models"
)

// CheckRecordRepository manages the append-only presence log.
type CheckRecordRepository struct {
	db *sqlx.DB
}

// NewCheckRecordRepository constructs a CheckRecordRepository.
func NewCheckRecordRepository(db *sqlx.DB) *CheckRecordRepository {
	return &CheckRecordRepository{db: db}
}

// Insert appends one record and fills in its generated id.
func (r *CheckRecordRepository) Insert(ctx context.Context, record *models.CheckRecord) error {
	const query = `INSERT INTO check_records (student_id, status, check_time, device_id, recorded_by)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := r.db.GetContext(ctx, &record.ID, query,
		record.StudentID, record.Status, record.CheckTime, record.DeviceID, record.RecordedBy); err != nil {
		return fmt.Errorf("insert check record: %w", err)
	}
	return nil
}

// BatchInsert appends multiple records in one transaction. Used when an
// approved leave materialises one 请假 record per requested date.
func (r *CheckRecordRepository) BatchInsert(ctx context.Context, records []models.CheckRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO check_records (student_id, status, check_time, device_id, recorded_by)
        VALUES (:student_id, :status, :check_time, :device_id, :recorded_by)`
	for i := range records {
		if _, err := tx.NamedExecContext(ctx, query, records[i]); err != nil {
			return fmt.Errorf("batch insert check record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return nil
}

// latestRecordLateral picks the winning row for a student within a day
// window. Ties on check_time fall to the larger id, so a later insert with
// the same timestamp supersedes an earlier one.
const latestRecordLateral = `LEFT JOIN LATERAL (
        SELECT cr.status, cr.check_time, cr.device_id
        FROM check_records cr
        WHERE cr.student_id = s.student_id AND cr.check_time >= $1 AND cr.check_time < $2
        ORDER BY cr.check_time DESC, cr.id DESC
        LIMIT 1
    ) latest ON TRUE`

// ListStatuses returns every matching student with their derived status for
// the day window. Students without a record surface as 未签到.
func (r *CheckRecordRepository) ListStatuses(ctx context.Context, dayStart, dayEnd time.Time, filter models.StatusFilter) ([]models.StudentStatus, error) {
	args := []interface{}{dayStart, dayEnd}
	conditions := []string{"1=1"}

	if filter.Building > 0 {
		conditions = append(conditions, fmt.Sprintf("s.building = $%d", len(args)+1))
		args = append(args, filter.Building)
	}
	if filter.BuildingArea != "" {
		conditions = append(conditions, fmt.Sprintf("s.building_area = $%d", len(args)+1))
		args = append(args, filter.BuildingArea)
	}
	if filter.BuildingFloor > 0 {
		conditions = append(conditions, fmt.Sprintf("s.building_floor = $%d", len(args)+1))
		args = append(args, filter.BuildingFloor)
	}
	if filter.ClassName != "" {
		conditions = append(conditions, fmt.Sprintf("s.class_name = $%d", len(args)+1))
		args = append(args, filter.ClassName)
	}
	if filter.Counselor != "" {
		conditions = append(conditions, fmt.Sprintf("s.counselor = $%d", len(args)+1))
		args = append(args, filter.Counselor)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("s.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(s.name LIKE $%d OR s.student_id LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	query := fmt.Sprintf(`SELECT s.id, s.student_id, s.name, s.gender, s.class_name, s.building, s.building_area,
        s.building_floor, s.room_number, s.bed_number, s.counselor, s.counselor_tel, s.created_at, s.updated_at,
        COALESCE(latest.status, '未签到') AS status, latest.check_time, latest.device_id
        FROM students s
        %s
        WHERE %s`, latestRecordLateral, strings.Join(conditions, " AND "))

	if filter.Status != "" {
		query = fmt.Sprintf("SELECT * FROM (%s) derived WHERE derived.status = $%d", query, len(args)+1)
		args = append(args, filter.Status)
	}
	query += " ORDER BY building ASC, building_area ASC, building_floor ASC, room_number ASC, bed_number ASC"

	var statuses []models.StudentStatus
	if err := r.db.SelectContext(ctx, &statuses, query, args...); err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	return statuses, nil
}

// GetStudentStatus derives one student's status for the day window.
func (r *CheckRecordRepository) GetStudentStatus(ctx context.Context, studentID string, dayStart, dayEnd time.Time) (*models.StudentStatus, error) {
	query := fmt.Sprintf(`SELECT s.id, s.student_id, s.name, s.gender, s.class_name, s.building, s.building_area,
        s.building_floor, s.room_number, s.bed_number, s.counselor, s.counselor_tel, s.created_at, s.updated_at,
        COALESCE(latest.status, '未签到') AS status, latest.check_time, latest.device_id
        FROM students s
        %s
        WHERE s.student_id = $3`, latestRecordLateral)

	var status models.StudentStatus
	if err := r.db.GetContext(ctx, &status, query, dayStart, dayEnd, studentID); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListByStudent returns the raw log for one student within a time span,
// newest first.
func (r *CheckRecordRepository) ListByStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.CheckRecord, error) {
	const query = `SELECT id, student_id, status, check_time, device_id, recorded_by
        FROM check_records
        WHERE student_id = $1 AND check_time >= $2 AND check_time < $3
        ORDER BY check_time DESC, id DESC`
	var records []models.CheckRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID, from, to); err != nil {
		return nil, fmt.Errorf("list check records: %w", err)
	}
	return records, nil
}

// BuildingStats aggregates derived statuses per building for the day window.
func (r *CheckRecordRepository) BuildingStats(ctx context.Context, dayStart, dayEnd time.Time) ([]models.BuildingStats, error) {
	query := fmt.Sprintf(`SELECT s.building,
        COUNT(*) AS total,
        COUNT(*) FILTER (WHERE latest.status = '在寝') AS present,
        COUNT(*) FILTER (WHERE latest.status = '离寝') AS out,
        COUNT(*) FILTER (WHERE latest.status = '请假') AS on_leave,
        COUNT(*) FILTER (WHERE latest.status IS NULL) AS not_checked
        FROM students s
        %s
        GROUP BY s.building
        ORDER BY s.building ASC`, latestRecordLateral)

	var stats []models.BuildingStats
	if err := r.db.SelectContext(ctx, &stats, query, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("building stats: %w", err)
	}
	return stats, nil
}

// FloorStats aggregates derived statuses per area and floor of one building.
func (r *CheckRecordRepository) FloorStats(ctx context.Context, building int, dayStart, dayEnd time.Time) ([]models.FloorStats, error) {
	query := fmt.Sprintf(`SELECT s.building_area, s.building_floor,
        COUNT(*) AS total,
        COUNT(*) FILTER (WHERE latest.status = '在寝') AS present,
        COUNT(*) FILTER (WHERE latest.status = '离寝') AS out,
        COUNT(*) FILTER (WHERE latest.status = '请假') AS on_leave,
        COUNT(*) FILTER (WHERE latest.status IS NULL) AS not_checked
        FROM students s
        %s
        WHERE s.building = $3
        GROUP BY s.building_area, s.building_floor
        ORDER BY s.building_area ASC, s.building_floor ASC`, latestRecordLateral)

	var stats []models.FloorStats
	if err := r.db.SelectContext(ctx, &stats, query, dayStart, dayEnd, building); err != nil {
		return nil, fmt.Errorf("floor stats: %w", err)
	}
	return stats, nil
}

// LeaveHistory lists students who held a 请假 record within the day window,
// with the status they ended the day on. A student counts as returned when
// their winning record is 在寝.
func (r *CheckRecordRepository) LeaveHistory(ctx context.Context, dayStart, dayEnd time.Time) ([]models.LeaveHistoryRow, error) {
	query := fmt.Sprintf(`SELECT s.id, s.student_id, s.name, s.gender, s.class_name, s.building, s.building_area,
        s.building_floor, s.room_number, s.bed_number, s.counselor, s.counselor_tel, s.created_at, s.updated_at,
        lv.leave_time,
        COALESCE(latest.status, '未签到') AS current_status,
        latest.check_time AS latest_time,
        COALESCE(latest.status = '在寝', FALSE) AS returned
        FROM students s
        JOIN LATERAL (
            SELECT MIN(cr.check_time) AS leave_time
            FROM check_records cr
            WHERE cr.student_id = s.student_id AND cr.status = '请假'
              AND cr.check_time >= $1 AND cr.check_time < $2
        ) lv ON lv.leave_time IS NOT NULL
        %s
        ORDER BY s.building ASC, s.room_number ASC`, latestRecordLateral)

	var rows []models.LeaveHistoryRow
	if err := r.db.SelectContext(ctx, &rows, query, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("leave history: %w", err)
	}
	return rows, nil
}

// LastRecord returns the newest record for a student regardless of date.
func (r *CheckRecordRepository) LastRecord(ctx context.Context, studentID string) (*models.CheckRecord, error) {
	const query = `SELECT id, student_id, status, check_time, device_id, recorded_by
        FROM check_records WHERE student_id = $1
        ORDER BY check_time DESC, id DESC LIMIT 1`
	var record models.CheckRecord
	if err := r.db.GetContext(ctx, &record, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("last check record: %w", err)
	}
	return &record, nil
}
