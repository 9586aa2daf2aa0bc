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

// StudentRepository manages persistence for the dorm roster.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, student_id, name, gender, class_name, building, building_area, building_floor,
        room_number, bed_number, counselor, counselor_tel, created_at, updated_at`

func applyStudentFilter(filter models.StudentFilter, conditions []string, args []interface{}) ([]string, []interface{}) {
	if filter.Building > 0 {
		conditions = append(conditions, fmt.Sprintf("building = $%d", len(args)+1))
		args = append(args, filter.Building)
	}
	if filter.BuildingArea != "" {
		conditions = append(conditions, fmt.Sprintf("building_area = $%d", len(args)+1))
		args = append(args, filter.BuildingArea)
	}
	if filter.BuildingFloor > 0 {
		conditions = append(conditions, fmt.Sprintf("building_floor = $%d", len(args)+1))
		args = append(args, filter.BuildingFloor)
	}
	if filter.ClassName != "" {
		conditions = append(conditions, fmt.Sprintf("class_name = $%d", len(args)+1))
		args = append(args, filter.ClassName)
	}
	if filter.Counselor != "" {
		conditions = append(conditions, fmt.Sprintf("counselor = $%d", len(args)+1))
		args = append(args, filter.Counselor)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name LIKE $%d OR student_id LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	return conditions, args
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	conditions, args = applyStudentFilter(filter, conditions, args)

	where := strings.Join(conditions, " AND ")

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"student_id": "student_id",
		"name":       "name",
		"building":   "building",
		"created_at": "created_at",
	}
	if sortBy == "" {
		sortBy = "student_id"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "student_id"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s
        ORDER BY %s %s, building_area ASC, building_floor ASC, room_number ASC LIMIT %d OFFSET %d`,
		studentColumns, where, column, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student by its surrogate uuid.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByStudentID fetches a student by the school-assigned student number.
func (r *StudentRepository) FindByStudentID(ctx context.Context, studentID string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE student_id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, studentID); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByStudentID checks whether a student number is taken, optionally excluding an ID.
func (r *StudentRepository) ExistsByStudentID(ctx context.Context, studentID string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE student_id = $1"
	args := []interface{}{studentID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student id: %w", err)
	}
	return true, nil
}

// Create inserts a new roster row.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now

	const query = `INSERT INTO students (id, student_id, name, gender, class_name, building, building_area,
        building_floor, room_number, bed_number, counselor, counselor_tel, created_at, updated_at)
        VALUES (:id, :student_id, :name, :gender, :class_name, :building, :building_area,
        :building_floor, :room_number, :bed_number, :counselor, :counselor_tel, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update rewrites the mutable roster fields.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET student_id = :student_id, name = :name, gender = :gender,
        class_name = :class_name, building = :building, building_area = :building_area,
        building_floor = :building_floor, room_number = :room_number, bed_number = :bed_number,
        counselor = :counselor, counselor_tel = :counselor_tel, updated_at = :updated_at
        WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update student rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a roster row.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete student rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListBuildings returns the distinct building numbers present on the roster.
func (r *StudentRepository) ListBuildings(ctx context.Context) ([]int, error) {
	var buildings []int
	if err := r.db.SelectContext(ctx, &buildings, "SELECT DISTINCT building FROM students ORDER BY building ASC"); err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	return buildings, nil
}

// ListCounselors returns the distinct counselor names on the roster.
func (r *StudentRepository) ListCounselors(ctx context.Context) ([]string, error) {
	var counselors []string
	if err := r.db.SelectContext(ctx, &counselors, "SELECT DISTINCT counselor FROM students WHERE counselor <> '' ORDER BY counselor ASC"); err != nil {
		return nil, fmt.Errorf("list counselors: %w", err)
	}
	return counselors, nil
}
