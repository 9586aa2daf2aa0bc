package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	"github.com/dormtrack/roomcheck-api/pkg/export"
	"github.com/dormtrack/roomcheck-api/pkg/storage"
)

const exportPageSize = 500

type statusLister interface {
	ListStatuses(ctx context.Context, dayStart, dayEnd time.Time, filter models.StatusFilter) ([]models.StudentStatus, error)
}

type leaveLister interface {
	List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveApplicationDetail, error)
}

type studentLister interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

type fingerprintLister interface {
	List(ctx context.Context, filter models.FingerprintFilter) ([]models.FingerprintMappingDetail, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService builds export datasets and persists rendered files.
type ExportService struct {
	statuses     statusLister
	leaves       leaveLister
	students     studentLister
	fingerprints fingerprintLister
	storage      fileStorage
	csv          csvRenderer
	pdf          pdfRenderer
	signer       *storage.SignedURLSigner
	logger       *zap.Logger
	cfg          ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(statuses statusLister, leaves leaveLister, students studentLister, fingerprints fingerprintLister, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		statuses:     statuses,
		leaves:       leaves,
		students:     students,
		fingerprints: fingerprints,
		storage:      store,
		csv:          csv,
		pdf:          pdf,
		signer:       signer,
		logger:       logger,
		cfg:          cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/download/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to the configured ResultTTL
// when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	datePart := job.Params.Date
	if datePart == "" {
		datePart = time.Now().Format("2006-01-02")
	}
	return fmt.Sprintf("%s_%s_%s.%s", string(job.Type), datePart, timestamp, job.Params.Format)
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ExportTypeStatus:
		return s.buildStatusDataset(ctx, job.Params)
	case models.ExportTypeLeave:
		return s.buildLeaveDataset(ctx, job.Params)
	case models.ExportTypeStudents:
		return s.buildStudentDataset(ctx, job.Params)
	case models.ExportTypeFingerprints:
		return s.buildFingerprintDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported export type %s", job.Type)
	}
}

func (s *ExportService) buildStatusDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	dayStart, dayEnd, err := dayWindow(params.Date)
	if err != nil {
		return export.Dataset{}, "", err
	}
	rows, err := s.statuses.ListStatuses(ctx, dayStart, dayEnd, models.StatusFilter{
		Building:  params.Building,
		ClassName: params.ClassName,
		Counselor: params.Counselor,
	})
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"学号":   row.StudentID,
			"姓名":   row.Name,
			"班级":   row.ClassName,
			"宿舍":   row.Dormitory(),
			"辅导员":  row.Counselor,
			"状态":   string(row.Status),
			"签到时间": formatExportTime(row.CheckTime),
			"设备":   derefString(row.DeviceID),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"学号", "姓名", "班级", "宿舍", "辅导员", "状态", "签到时间", "设备"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("归寝状态 %s", dayStart.Format("2006-01-02"))
	return dataset, title, nil
}

func (s *ExportService) buildLeaveDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	rows, err := s.leaves.List(ctx, models.LeaveFilter{Counselor: params.Counselor})
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"学号":   row.StudentID,
			"姓名":   row.StudentName,
			"班级":   row.ClassName,
			"宿舍":   row.Dormitory,
			"请假日期": strings.Join(row.LeaveDates, " "),
			"天数":   fmt.Sprintf("%d", row.LeaveDays()),
			"事由":   row.Reason,
			"状态":   string(row.Status),
			"申请时间": row.ApplyTime.Local().Format("2006-01-02 15:04:05"),
			"审核人":  derefString(row.ReviewerName),
			"审核时间": formatExportTime(row.ReviewTime),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"学号", "姓名", "班级", "宿舍", "请假日期", "天数", "事由", "状态", "申请时间", "审核人", "审核时间"},
		Rows:    dataRows,
	}
	return dataset, "请假申请", nil
}

func (s *ExportService) buildStudentDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	filter := models.StudentFilter{
		Building:  params.Building,
		ClassName: params.ClassName,
		Counselor: params.Counselor,
		PageSize:  exportPageSize,
		SortBy:    "student_id",
	}
	var dataRows []map[string]string
	for page := 1; ; page++ {
		filter.Page = page
		students, total, err := s.students.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, st := range students {
			dataRows = append(dataRows, map[string]string{
				"学号":    st.StudentID,
				"姓名":    st.Name,
				"性别":    st.Gender,
				"班级":    st.ClassName,
				"宿舍":    st.Dormitory(),
				"辅导员":   st.Counselor,
				"辅导员电话": st.CounselorTel,
			})
		}
		if len(students) == 0 || len(dataRows) >= total {
			break
		}
	}
	dataset := export.Dataset{
		Headers: []string{"学号", "姓名", "性别", "班级", "宿舍", "辅导员", "辅导员电话"},
		Rows:    dataRows,
	}
	return dataset, "学生名单", nil
}

func (s *ExportService) buildFingerprintDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	filter := models.FingerprintFilter{PageSize: exportPageSize}
	var dataRows []map[string]string
	for page := 1; ; page++ {
		filter.Page = page
		mappings, total, err := s.fingerprints.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, m := range mappings {
			dataRows = append(dataRows, map[string]string{
				"学号":   m.StudentID,
				"姓名":   m.StudentName,
				"设备":   m.DeviceID,
				"指纹编号": fmt.Sprintf("%d", m.FingerprintID),
				"手指":   formatFingerIndex(m.FingerIndex),
				"录入状态": string(m.EnrollmentStatus),
				"录入时间": m.EnrolledAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
		if len(mappings) == 0 || len(dataRows) >= total {
			break
		}
	}
	dataset := export.Dataset{
		Headers: []string{"学号", "姓名", "设备", "指纹编号", "手指", "录入状态", "录入时间"},
		Rows:    dataRows,
	}
	return dataset, "指纹绑定", nil
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatFingerIndex(idx *int) string {
	if idx == nil {
		return ""
	}
	return fmt.Sprintf("%d", *idx)
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
