package models

import "time"

// EnrollmentStatus tracks whether a fingerprint slot has been captured on the
// physical sensor.
type EnrollmentStatus string

const (
	EnrollmentStatusPending  EnrollmentStatus = "pending"
	EnrollmentStatusEnrolled EnrollmentStatus = "enrolled"
	EnrollmentStatusFailed   EnrollmentStatus = "failed"
)

// MaxFingerprintID is the largest slot number a sensor supports.
const MaxFingerprintID = 999

// FingerprintMapping associates a (device, fingerprint slot) pair with a
// student. A pair maps to at most one student; a student may hold slots on
// several devices.
type FingerprintMapping struct {
	ID               string           `db:"id" json:"id"`
	DeviceID         string           `db:"device_id" json:"device_id"`
	FingerprintID    int              `db:"fingerprint_id" json:"fingerprint_id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	FingerIndex      *int             `db:"finger_index" json:"finger_index,omitempty"`
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	EnrolledAt       time.Time        `db:"enrolled_at" json:"enrolled_at"`
}

// FingerprintMappingDetail adds display names for admin listings.
type FingerprintMappingDetail struct {
	FingerprintMapping
	StudentName string  `db:"student_name" json:"student_name"`
	DeviceName  *string `db:"device_name" json:"device_name,omitempty"`
}

// FingerprintFilter scopes mapping listings.
type FingerprintFilter struct {
	DeviceID  string
	StudentID string
	Page      int
	PageSize  int
}

// MappingRow is one candidate row of a batch import, numbered as in the
// uploaded file (header is row 1, data starts at row 2).
type MappingRow struct {
	Row           int    `json:"row"`
	StudentID     string `json:"student_id"`
	DeviceID      string `json:"device_id"`
	FingerprintID int    `json:"fingerprint_id"`
	FingerIndex   *int   `json:"finger_index,omitempty"`
}

// RowOutcome describes what happened to one batch row.
type RowOutcome string

const (
	RowAccepted RowOutcome = "accepted"
	RowRejected RowOutcome = "rejected"
)

// MappingRowResult is the per-row verdict of a batch import.
type MappingRowResult struct {
	Row      int        `json:"row"`
	Outcome  RowOutcome `json:"outcome"`
	Error    string     `json:"error,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
	Updated  bool       `json:"updated,omitempty"`
}

// BatchImportResult aggregates a batch import. Partial success is the normal
// outcome; accepted rows stay committed even when others fail.
type BatchImportResult struct {
	Total    int                `json:"total"`
	Accepted int                `json:"accepted"`
	Rejected int                `json:"rejected"`
	Rows     []MappingRowResult `json:"rows"`
}

// ResolvedStudent is the device-facing identity lookup result.
type ResolvedStudent struct {
	StudentID     string `db:"student_id" json:"student_id"`
	Name          string `db:"name" json:"name"`
	ClassName     string `db:"class_name" json:"class_name"`
	FingerprintID int    `db:"fingerprint_id" json:"fingerprint_id"`
	FingerIndex   *int   `db:"finger_index" json:"finger_index,omitempty"`
}
