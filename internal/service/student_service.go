package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByStudentID(ctx context.Context, studentID string) (*models.Student, error)
	ExistsByStudentID(ctx context.Context, studentID string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
	ListBuildings(ctx context.Context) ([]int, error)
	ListCounselors(ctx context.Context) ([]string, error)
}

// StudentRequest describes roster creation and update payloads.
type StudentRequest struct {
	StudentID     string `json:"student_id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Gender        string `json:"gender"`
	ClassName     string `json:"class_name" validate:"required"`
	Building      int    `json:"building" validate:"required,min=1"`
	BuildingArea  string `json:"building_area" validate:"required"`
	BuildingFloor int    `json:"building_floor" validate:"required,min=1"`
	RoomNumber    string `json:"room_number" validate:"required"`
	BedNumber     string `json:"bed_number" validate:"required"`
	Counselor     string `json:"counselor"`
	CounselorTel  string `json:"counselor_tel"`
}

// StudentImportRow is one candidate roster row of a CSV import, numbered as
// in the uploaded file.
type StudentImportRow struct {
	Row int `json:"row"`
	StudentRequest
}

// StudentImportResult aggregates a roster import with per-row verdicts.
type StudentImportResult struct {
	Total    int                       `json:"total"`
	Accepted int                       `json:"accepted"`
	Rejected int                       `json:"rejected"`
	Rows     []models.MappingRowResult `json:"rows"`
}

// StudentService manages the dorm roster.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns roster entries with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one student by surrogate id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create validates and stores a roster entry.
func (s *StudentService) Create(ctx context.Context, req StudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	exists, err := s.repo.ExistsByStudentID(ctx, req.StudentID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already registered")
	}
	student := studentFromRequest(req)
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Update rewrites a roster entry.
func (s *StudentService) Update(ctx context.Context, id string, req StudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByStudentID(ctx, req.StudentID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already registered")
	}

	updated := studentFromRequest(req)
	updated.ID = student.ID
	updated.CreatedAt = student.CreatedAt
	if err := s.repo.Update(ctx, updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return updated, nil
}

// Delete removes a roster entry. Check records and leave applications keyed by
// the student number are kept.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	return nil
}

// ImportCSV writes valid rows one by one; a rejected row never rolls back
// its neighbours.
func (s *StudentService) ImportCSV(ctx context.Context, rows []StudentImportRow) *StudentImportResult {
	result := &StudentImportResult{Total: len(rows)}

	batchIDs := make(map[string][]int, len(rows))
	for _, row := range rows {
		batchIDs[row.StudentID] = append(batchIDs[row.StudentID], row.Row)
	}

	for _, row := range rows {
		rowResult := models.MappingRowResult{Row: row.Row, Outcome: models.RowAccepted}

		if dupes := batchIDs[row.StudentID]; row.StudentID != "" && len(dupes) > 1 {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = fmt.Sprintf("duplicate student_id in rows %s", joinRows(dupes))
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}
		if err := s.validator.Struct(row.StudentRequest); err != nil {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = "missing or invalid required fields"
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}
		exists, err := s.repo.ExistsByStudentID(ctx, row.StudentID, "")
		if err != nil {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = "student lookup failed"
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}
		if exists {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = fmt.Sprintf("student %s already registered", row.StudentID)
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}
		if err := s.repo.Create(ctx, studentFromRequest(row.StudentRequest)); err != nil {
			rowResult.Outcome = models.RowRejected
			rowResult.Error = "write failed"
			result.Rows = append(result.Rows, rowResult)
			result.Rejected++
			continue
		}
		result.Rows = append(result.Rows, rowResult)
		result.Accepted++
	}
	return result
}

// Buildings lists distinct building numbers for filter dropdowns.
func (s *StudentService) Buildings(ctx context.Context) ([]int, error) {
	buildings, err := s.repo.ListBuildings(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list buildings")
	}
	return buildings, nil
}

// Counselors lists distinct counselor names for filter dropdowns.
func (s *StudentService) Counselors(ctx context.Context) ([]string, error) {
	counselors, err := s.repo.ListCounselors(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list counselors")
	}
	return counselors, nil
}

func studentFromRequest(req StudentRequest) *models.Student {
	return &models.Student{
		StudentID:     req.StudentID,
		Name:          req.Name,
		Gender:        req.Gender,
		ClassName:     req.ClassName,
		Building:      req.Building,
		BuildingArea:  req.BuildingArea,
		BuildingFloor: req.BuildingFloor,
		RoomNumber:    req.RoomNumber,
		BedNumber:     req.BedNumber,
		Counselor:     req.Counselor,
		CounselorTel:  req.CounselorTel,
	}
}
