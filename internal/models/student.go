package models

import (
	"fmt"
	"time"
)

// Student represents a dorm resident stored in the students table.
type Student struct {
	ID            string    `db:"id" json:"id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	Name          string    `db:"name" json:"name"`
	Gender        string    `db:"gender" json:"gender"`
	ClassName     string    `db:"class_name" json:"class_name"`
	Building      int       `db:"building" json:"building"`
	BuildingArea  string    `db:"building_area" json:"building_area"`
	BuildingFloor int       `db:"building_floor" json:"building_floor"`
	RoomNumber    string    `db:"room_number" json:"room_number"`
	BedNumber     string    `db:"bed_number" json:"bed_number"`
	Counselor     string    `db:"counselor" json:"counselor"`
	CounselorTel  string    `db:"counselor_tel" json:"counselor_tel"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Dormitory renders the bed location the way the legacy roster sheets did.
func (s Student) Dormitory() string {
	if s.Building == 0 {
		return ""
	}
	return fmt.Sprintf("%d号楼%s区%d层%s-%s床", s.Building, s.BuildingArea, s.BuildingFloor, s.RoomNumber, s.BedNumber)
}

// StudentFilter captures filtering criteria for roster listings.
type StudentFilter struct {
	Building      int
	BuildingArea  string
	BuildingFloor int
	ClassName     string
	Counselor     string
	Search        string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
