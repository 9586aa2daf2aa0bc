package models

import (
	"fmt"
	"time"
)

// DeviceStatus is the administrative state of a sensor unit.
type DeviceStatus string

const (
	DeviceStatusActive      DeviceStatus = "active"
	DeviceStatusInactive    DeviceStatus = "inactive"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
)

// Valid reports whether the status is a supported value.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusActive, DeviceStatusInactive, DeviceStatusMaintenance:
		return true
	default:
		return false
	}
}

// DefaultMaxFingerprints matches the slot capacity of the deployed sensors.
const DefaultMaxFingerprints = 1000

// Device is a physical fingerprint sensor unit.
type Device struct {
	ID              string       `db:"id" json:"id"`
	DeviceID        string       `db:"device_id" json:"device_id"`
	DeviceName      string       `db:"device_name" json:"device_name"`
	BuildingNumber  int          `db:"building_number" json:"building_number"`
	DeviceSequence  int          `db:"device_sequence" json:"device_sequence"`
	Location        *string      `db:"location" json:"location,omitempty"`
	Status          DeviceStatus `db:"status" json:"status"`
	MaxFingerprints int          `db:"max_fingerprints" json:"max_fingerprints"`
	IPAddress       *string      `db:"ip_address" json:"ip_address,omitempty"`
	LastSeen        *time.Time   `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// OnlineWithin reports the derived online heuristic: an active device that
// heartbeated within the window. Never persisted.
func (d Device) OnlineWithin(window time.Duration, now time.Time) bool {
	if d.Status != DeviceStatusActive || d.LastSeen == nil {
		return false
	}
	return now.Sub(*d.LastSeen) <= window
}

// BuildDeviceID derives the natural key from building and sequence, matching
// the identifiers flashed onto the hardware.
func BuildDeviceID(building, sequence int) string {
	return fmt.Sprintf("FP001-%d-%d", building, sequence)
}

// DeviceDetail extends a device with its slot usage.
type DeviceDetail struct {
	Device
	UsedFingerprints int  `db:"used_fingerprints" json:"used_fingerprints"`
	Online           bool `db:"-" json:"online"`
}

// DeviceFilter scopes device listings.
type DeviceFilter struct {
	BuildingNumber int
	Status         DeviceStatus
	Search         string
	Page           int
	PageSize       int
}

// DeviceCapacityStats summarises fleet slot usage.
type DeviceCapacityStats struct {
	TotalCapacity int     `db:"total_capacity" json:"total_capacity"`
	UsedCapacity  int     `db:"used_capacity" json:"used_capacity"`
	AvgUsage      float64 `db:"avg_usage" json:"avg_usage"`
}
