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

// DeviceRepository manages the fingerprint sensor registry.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs a DeviceRepository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `d.id, d.device_id, d.device_name, d.building_number, d.device_sequence, d.location,
        d.status, d.max_fingerprints, d.ip_address, d.last_seen, d.created_at, d.updated_at`

// List returns devices with slot usage counts.
func (r *DeviceRepository) List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceDetail, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.BuildingNumber > 0 {
		conditions = append(conditions, fmt.Sprintf("d.building_number = $%d", len(args)+1))
		args = append(args, filter.BuildingNumber)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(d.device_id LIKE $%d OR d.device_name LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s,
        COALESCE(fm.used, 0) AS used_fingerprints
        FROM devices d
        LEFT JOIN (SELECT device_id, COUNT(*) AS used FROM fingerprint_mappings GROUP BY device_id) fm
          ON fm.device_id = d.device_id
        WHERE %s
        ORDER BY d.building_number ASC, d.device_sequence ASC LIMIT %d OFFSET %d`,
		deviceColumns, where, size, offset)

	var devices []models.DeviceDetail
	if err := r.db.SelectContext(ctx, &devices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list devices: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM devices d WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count devices: %w", err)
	}
	return devices, total, nil
}

// FindByID fetches a device by its surrogate uuid.
func (r *DeviceRepository) FindByID(ctx context.Context, id string) (*models.Device, error) {
	query := fmt.Sprintf("SELECT %s FROM devices d WHERE d.id = $1", deviceColumns)
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		return nil, err
	}
	return &device, nil
}

// FindByDeviceID fetches a device by the hardware identifier.
func (r *DeviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	query := fmt.Sprintf("SELECT %s FROM devices d WHERE d.device_id = $1", deviceColumns)
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, deviceID); err != nil {
		return nil, err
	}
	return &device, nil
}

// ExistsByDeviceID checks whether a hardware identifier is registered.
func (r *DeviceRepository) ExistsByDeviceID(ctx context.Context, deviceID string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM devices WHERE device_id = $1"
	args := []interface{}{deviceID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check device id: %w", err)
	}
	return true, nil
}

// Create registers a new device.
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.Status == "" {
		device.Status = models.DeviceStatusActive
	}
	if device.MaxFingerprints <= 0 {
		device.MaxFingerprints = models.DefaultMaxFingerprints
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	const query = `INSERT INTO devices (id, device_id, device_name, building_number, device_sequence, location,
        status, max_fingerprints, ip_address, last_seen, created_at, updated_at)
        VALUES (:id, :device_id, :device_name, :building_number, :device_sequence, :location,
        :status, :max_fingerprints, :ip_address, :last_seen, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// Update rewrites the mutable registry fields.
func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now().UTC()
	const query = `UPDATE devices SET device_name = :device_name, location = :location, status = :status,
        max_fingerprints = :max_fingerprints, updated_at = :updated_at
        WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, device)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update device rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a device from the registry.
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete device rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Heartbeat stamps last_seen and the reporting IP for a device.
func (r *DeviceRepository) Heartbeat(ctx context.Context, deviceID string, ip *string, seenAt time.Time) error {
	const query = `UPDATE devices SET last_seen = $1, ip_address = COALESCE($2, ip_address), updated_at = $1
        WHERE device_id = $3`
	result, err := r.db.ExecContext(ctx, query, seenAt, ip, deviceID)
	if err != nil {
		return fmt.Errorf("device heartbeat: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("device heartbeat rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CapacityStats summarises fleet slot capacity and usage.
func (r *DeviceRepository) CapacityStats(ctx context.Context) (*models.DeviceCapacityStats, error) {
	const query = `SELECT
        COALESCE(SUM(d.max_fingerprints), 0) AS total_capacity,
        COALESCE(SUM(fm.used), 0) AS used_capacity,
        COALESCE(AVG(COALESCE(fm.used, 0)::float / NULLIF(d.max_fingerprints, 0)), 0) AS avg_usage
        FROM devices d
        LEFT JOIN (SELECT device_id, COUNT(*) AS used FROM fingerprint_mappings GROUP BY device_id) fm
          ON fm.device_id = d.device_id`
	var stats models.DeviceCapacityStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("device capacity stats: %w", err)
	}
	return &stats, nil
}
