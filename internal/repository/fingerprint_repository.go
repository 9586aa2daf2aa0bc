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

// FingerprintRepository manages (device, slot) to student mappings.
type FingerprintRepository struct {
	db *sqlx.DB
}

// NewFingerprintRepository constructs a FingerprintRepository.
func NewFingerprintRepository(db *sqlx.DB) *FingerprintRepository {
	return &FingerprintRepository{db: db}
}

const mappingDetailColumns = `fm.id, fm.device_id, fm.fingerprint_id, fm.student_id, fm.finger_index,
        fm.enrollment_status, fm.enrolled_at,
        s.name AS student_name, d.device_name`

const mappingDetailJoins = `FROM fingerprint_mappings fm
        JOIN students s ON s.student_id = fm.student_id
        LEFT JOIN devices d ON d.device_id = fm.device_id`

// List returns mapping details matching the filter.
func (r *FingerprintRepository) List(ctx context.Context, filter models.FingerprintFilter) ([]models.FingerprintMappingDetail, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.DeviceID != "" {
		conditions = append(conditions, fmt.Sprintf("fm.device_id = $%d", len(args)+1))
		args = append(args, filter.DeviceID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("fm.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}

	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s WHERE %s
        ORDER BY fm.device_id ASC, fm.fingerprint_id ASC LIMIT %d OFFSET %d`,
		mappingDetailColumns, mappingDetailJoins, where, size, offset)

	var details []models.FingerprintMappingDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fingerprint mappings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", mappingDetailJoins, where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fingerprint mappings: %w", err)
	}
	return details, total, nil
}

// FindBySlot fetches the mapping occupying a (device, slot) pair.
func (r *FingerprintRepository) FindBySlot(ctx context.Context, deviceID string, fingerprintID int) (*models.FingerprintMapping, error) {
	const query = `SELECT id, device_id, fingerprint_id, student_id, finger_index, enrollment_status, enrolled_at
        FROM fingerprint_mappings WHERE device_id = $1 AND fingerprint_id = $2`
	var mapping models.FingerprintMapping
	if err := r.db.GetContext(ctx, &mapping, query, deviceID, fingerprintID); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// FindByID fetches one mapping by its surrogate id.
func (r *FingerprintRepository) FindByID(ctx context.Context, id string) (*models.FingerprintMapping, error) {
	const query = `SELECT id, device_id, fingerprint_id, student_id, finger_index, enrollment_status, enrolled_at
        FROM fingerprint_mappings WHERE id = $1`
	var mapping models.FingerprintMapping
	if err := r.db.GetContext(ctx, &mapping, query, id); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// ListByStudent returns every slot a student holds across devices.
func (r *FingerprintRepository) ListByStudent(ctx context.Context, studentID string) ([]models.FingerprintMapping, error) {
	const query = `SELECT id, device_id, fingerprint_id, student_id, finger_index, enrollment_status, enrolled_at
        FROM fingerprint_mappings WHERE student_id = $1 ORDER BY device_id ASC, fingerprint_id ASC`
	var mappings []models.FingerprintMapping
	if err := r.db.SelectContext(ctx, &mappings, query, studentID); err != nil {
		return nil, fmt.Errorf("list student fingerprints: %w", err)
	}
	return mappings, nil
}

// Create inserts a new mapping row.
func (r *FingerprintRepository) Create(ctx context.Context, mapping *models.FingerprintMapping) error {
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.EnrollmentStatus == "" {
		mapping.EnrollmentStatus = models.EnrollmentStatusPending
	}
	if mapping.EnrolledAt.IsZero() {
		mapping.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO fingerprint_mappings (id, device_id, fingerprint_id, student_id, finger_index, enrollment_status, enrolled_at)
        VALUES (:id, :device_id, :fingerprint_id, :student_id, :finger_index, :enrollment_status, :enrolled_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("create fingerprint mapping: %w", err)
	}
	return nil
}

// Reassign rebinds an existing slot to a different student and resets the
// enrollment to pending.
func (r *FingerprintRepository) Reassign(ctx context.Context, id, studentID string, fingerIndex *int) error {
	const query = `UPDATE fingerprint_mappings
        SET student_id = $1, finger_index = $2, enrollment_status = $3, enrolled_at = $4
        WHERE id = $5`
	result, err := r.db.ExecContext(ctx, query, studentID, fingerIndex, models.EnrollmentStatusPending, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reassign fingerprint mapping: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reassign fingerprint rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateEnrollmentStatus records the sensor-side capture outcome for a slot.
func (r *FingerprintRepository) UpdateEnrollmentStatus(ctx context.Context, deviceID string, fingerprintID int, status models.EnrollmentStatus) error {
	const query = `UPDATE fingerprint_mappings SET enrollment_status = $1, enrolled_at = $2
        WHERE device_id = $3 AND fingerprint_id = $4`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), deviceID, fingerprintID)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a mapping, freeing its slot.
func (r *FingerprintRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM fingerprint_mappings WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete fingerprint mapping: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete fingerprint rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByDevice counts occupied slots on a device.
func (r *FingerprintRepository) CountByDevice(ctx context.Context, deviceID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM fingerprint_mappings WHERE device_id = $1", deviceID); err != nil {
		return 0, fmt.Errorf("count device fingerprints: %w", err)
	}
	return count, nil
}

// ResolveStudent is the device-facing lookup: slot number to student identity.
func (r *FingerprintRepository) ResolveStudent(ctx context.Context, deviceID string, fingerprintID int) (*models.ResolvedStudent, error) {
	const query = `SELECT s.student_id, s.name, s.class_name, fm.fingerprint_id, fm.finger_index
        FROM fingerprint_mappings fm
        JOIN students s ON s.student_id = fm.student_id
        WHERE fm.device_id = $1 AND fm.fingerprint_id = $2`
	var resolved models.ResolvedStudent
	if err := r.db.GetContext(ctx, &resolved, query, deviceID, fingerprintID); err != nil {
		return nil, err
	}
	return &resolved, nil
}
