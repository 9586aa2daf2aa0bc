package models

import "time"

// CheckStatus is the bed-presence state recorded for a student.
type CheckStatus string

const (
	CheckStatusPresent CheckStatus = "在寝"
	CheckStatusOut     CheckStatus = "离寝"
	CheckStatusOnLeave CheckStatus = "请假"
	// CheckStatusUnchecked is the derived sentinel for a date without any
	// record. It is never written to the check_records table.
	CheckStatusUnchecked CheckStatus = "未签到"
)

// Valid reports whether the status may be stored in a check record.
func (s CheckStatus) Valid() bool {
	switch s {
	case CheckStatusPresent, CheckStatusOut, CheckStatusOnLeave:
		return true
	default:
		return false
	}
}

// CheckRecord is one presence event in the append-only log.
//
// The id column is a bigserial on purpose: the derived "current status" picks
// the row with the largest (check_time, id), so insertion order must be the
// tie-break for rows sharing a timestamp. Do not switch this table to UUIDs.
type CheckRecord struct {
	ID         int64       `db:"id" json:"id"`
	StudentID  string      `db:"student_id" json:"student_id"`
	Status     CheckStatus `db:"status" json:"status"`
	CheckTime  time.Time   `db:"check_time" json:"check_time"`
	DeviceID   *string     `db:"device_id" json:"device_id,omitempty"`
	RecordedBy *string     `db:"recorded_by" json:"recorded_by,omitempty"`
}

// StudentStatus joins a student with their derived status for one date.
type StudentStatus struct {
	Student
	Status    CheckStatus `db:"status" json:"status"`
	CheckTime *time.Time  `db:"check_time" json:"check_time,omitempty"`
	DeviceID  *string     `db:"device_id" json:"device_id,omitempty"`
}

// StatusFilter scopes the per-date status listing.
type StatusFilter struct {
	Building      int
	BuildingArea  string
	BuildingFloor int
	ClassName     string
	Counselor     string
	Status        CheckStatus
	StudentID     string
	Search        string
}

// BuildingStats aggregates derived statuses for one building on one date.
type BuildingStats struct {
	Building   int `db:"building" json:"building"`
	Total      int `db:"total" json:"total"`
	Present    int `db:"present" json:"present"`
	Out        int `db:"out" json:"out"`
	OnLeave    int `db:"on_leave" json:"on_leave"`
	NotChecked int `db:"not_checked" json:"not_checked"`
}

// FloorStats aggregates derived statuses per area/floor within a building.
type FloorStats struct {
	BuildingArea  string `db:"building_area" json:"building_area"`
	BuildingFloor int    `db:"building_floor" json:"building_floor"`
	Total         int    `db:"total" json:"total"`
	Present       int    `db:"present" json:"present"`
	Out           int    `db:"out" json:"out"`
	OnLeave       int    `db:"on_leave" json:"on_leave"`
	NotChecked    int    `db:"not_checked" json:"not_checked"`
}

// LeaveHistoryRow describes a student who held a 请假 record on a date,
// together with where they ended up by end of that date.
type LeaveHistoryRow struct {
	Student
	LeaveTime     time.Time   `db:"leave_time" json:"leave_time"`
	CurrentStatus CheckStatus `db:"current_status" json:"current_status"`
	LatestTime    *time.Time  `db:"latest_time" json:"latest_time,omitempty"`
	Returned      bool        `db:"returned" json:"returned"`
}
