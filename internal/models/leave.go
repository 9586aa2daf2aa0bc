package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LeaveStatus is the review state of a leave application.
type LeaveStatus string

const (
	LeaveStatusPending   LeaveStatus = "pending"
	LeaveStatusApproved  LeaveStatus = "approved"
	LeaveStatusRejected  LeaveStatus = "rejected"
	LeaveStatusCancelled LeaveStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s LeaveStatus) Terminal() bool {
	return s == LeaveStatusApproved || s == LeaveStatusRejected || s == LeaveStatusCancelled
}

// LeaveDates is a sorted set of calendar dates serialised as a JSON array of
// YYYY-MM-DD strings, matching the historical storage format.
type LeaveDates []string

// Value marshals the dates for persistence.
func (d LeaveDates) Value() (driver.Value, error) {
	if d == nil {
		d = LeaveDates{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal leave dates: %w", err)
	}
	return data, nil
}

// Scan unmarshals the stored JSON array.
func (d *LeaveDates) Scan(value interface{}) error {
	if value == nil {
		*d = LeaveDates{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for LeaveDates", value)
	}
	if len(data) == 0 {
		*d = LeaveDates{}
		return nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("unmarshal leave dates: %w", err)
	}
	return nil
}

// LeaveApplication is a student-submitted request for leave on specific dates.
type LeaveApplication struct {
	ID         string      `db:"id" json:"id"`
	StudentID  string      `db:"student_id" json:"student_id"`
	LeaveDates LeaveDates  `db:"leave_dates" json:"leave_dates"`
	Reason     string      `db:"reason" json:"reason"`
	Status     LeaveStatus `db:"status" json:"status"`
	ApplyTime  time.Time   `db:"apply_time" json:"apply_time"`
	ReviewerID *string     `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewTime *time.Time  `db:"review_time" json:"review_time,omitempty"`
}

// LeaveApplicationDetail joins the application with student and reviewer info
// for review screens.
type LeaveApplicationDetail struct {
	LeaveApplication
	StudentName  string  `db:"student_name" json:"student_name"`
	ClassName    string  `db:"class_name" json:"class_name"`
	Counselor    string  `db:"counselor" json:"counselor"`
	Dormitory    string  `db:"dormitory" json:"dormitory"`
	ReviewerName *string `db:"reviewer_name" json:"reviewer_name,omitempty"`
}

// LeaveDays is the number of requested dates.
func (d LeaveApplicationDetail) LeaveDays() int {
	return len(d.LeaveDates)
}

// LeaveFilter scopes application listings.
type LeaveFilter struct {
	StudentID string
	Counselor string
	Status    LeaveStatus
}
