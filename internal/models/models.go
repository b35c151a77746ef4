// Package models holds the shared data types of the scan tool.
package models

import "time"

// DTCStatus identifies which fault store a trouble code was read from.
type DTCStatus string

const (
	// StatusCurrent marks confirmed codes (mode 03).
	StatusCurrent DTCStatus = "current"

	// StatusPending marks maturing codes (mode 07).
	StatusPending DTCStatus = "pending"

	// StatusPermanent marks codes only the ECU itself can erase (mode 0A).
	StatusPermanent DTCStatus = "permanent"
)

// DTC is a decoded diagnostic trouble code.
type DTC struct {
	Code        string
	Description string
	Status      DTCStatus
	DetectedAt  time.Time
}

// Reading is a single sampled live parameter.
type Reading struct {
	PID   byte
	Name  string
	Value float64
	Unit  string
	Raw   []byte
	At    time.Time
}

// VehicleInfo aggregates identification data gathered during connect.
type VehicleInfo struct {
	VIN           string
	CalibrationID string
	Protocol      string
	SupportedPIDs []byte
}
