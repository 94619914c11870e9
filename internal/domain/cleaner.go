package domain

import (
	"time"

	"github.com/google/uuid"
)

// CleanerStatus is the presence state of a cleaner.
type CleanerStatus string

const (
	CleanerOffDuty CleanerStatus = "off_duty"
	CleanerOnDuty  CleanerStatus = "on_duty"
	CleanerBusy    CleanerStatus = "busy"
)

// Cleaner is an individual working for a company.
// Status is written only by the shift tracker and the dispatch engine.
type Cleaner struct {
	ID                 uuid.UUID     `json:"id"`
	CompanyID          uuid.UUID     `json:"company_id"`
	Name               string        `json:"name"`
	Status             CleanerStatus `json:"status"`
	LastLocation       *Point        `json:"last_location,omitempty"`
	LastLocationUpdate *time.Time    `json:"last_location_update,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// CleanerShift is a contiguous on-duty interval. ShiftEnd == nil means open.
type CleanerShift struct {
	ID              uuid.UUID  `json:"id"`
	CleanerID       uuid.UUID  `json:"cleaner_id"`
	CompanyID       uuid.UUID  `json:"company_id"`
	ShiftStart      time.Time  `json:"shift_start"`
	ShiftEnd        *time.Time `json:"shift_end,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	StartLocation   *Point     `json:"start_location,omitempty"`
	EndLocation     *Point     `json:"end_location,omitempty"`
}

// IsOpen reports whether the shift has not been closed yet.
func (s CleanerShift) IsOpen() bool {
	return s.ShiftEnd == nil
}

// ShiftDurationMinutes returns the whole minutes between start and end, never negative.
func ShiftDurationMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
