/**
 * @description
 * Core domain models for the washapp service. These structs are shared by the
 * engines, the store implementations and the HTTP layer.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (fils for AED),
 *   which avoids floating-point inaccuracies with financial data.
 * - Jobs are never deleted; every mutation goes through a conditional
 *   state-machine transition in the store.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a wash job.
type JobStatus string

const (
	JobStatusPendingPayment JobStatus = "pending_payment"
	JobStatusPaid           JobStatus = "paid"
	JobStatusAssigned       JobStatus = "assigned"
	JobStatusInProgress     JobStatus = "in_progress"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusRefunded       JobStatus = "refunded"
	JobStatusCancelled      JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPendingPayment: {JobStatusPaid},
	JobStatusPaid:           {JobStatusAssigned, JobStatusRefunded},
	JobStatusAssigned:       {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress:     {JobStatusCompleted, JobStatusCancelled},
}

// CanTransitionTo reports whether next is a legal edge out of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, candidate := range jobTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist out of s.
func (s JobStatus) IsTerminal() bool {
	return len(jobTransitions[s]) == 0
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Car describes the customer's vehicle.
type Car struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Color string `json:"color"`
	Plate string `json:"plate"`
}

// Customer holds the contact details captured at checkout.
type Customer struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Job represents a paid customer request and its progress through dispatch.
// This struct maps directly to the `jobs` table.
type Job struct {
	ID              uuid.UUID  `json:"id"`
	Customer        Customer   `json:"customer"`
	Car             Car        `json:"car"`
	Location        Point      `json:"location"`
	Address         string     `json:"address,omitempty"`
	CompanyID       *uuid.UUID `json:"company_id,omitempty"`
	CleanerID       *uuid.UUID `json:"cleaner_id,omitempty"`
	BaseAmount      int64      `json:"base_amount"` // in fils
	Currency        string     `json:"currency"`
	Status          JobStatus  `json:"status"`
	ChargeID        string     `json:"charge_id,omitempty"`
	CompletionProof *string    `json:"completion_proof,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	Rating          *int       `json:"rating,omitempty"`
	Review          *string    `json:"review,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
}

// JobFinancial is the write-once fee/tax/tip breakdown recorded at payment capture.
// Cleaner attribution is filled exactly once when the job is accepted.
type JobFinancial struct {
	JobID          uuid.UUID   `json:"job_id"`
	CompanyID      uuid.UUID   `json:"company_id"`
	CleanerID      *uuid.UUID  `json:"cleaner_id,omitempty"`
	PackageType    PackageType `json:"package_type"`
	BaseAmount     int64       `json:"base_amount"`
	BaseTax        int64       `json:"base_tax"`
	TipAmount      int64       `json:"tip_amount"`
	TipTax         int64       `json:"tip_tax"`
	PlatformFee    int64       `json:"platform_fee"`
	PlatformFeeTax int64       `json:"platform_fee_tax"`
	ProcessingFee  int64       `json:"processing_fee"`
	GrossAmount    int64       `json:"gross_amount"`
	NetPayable     int64       `json:"net_payable"`
	Currency       string      `json:"currency"`
	PaidAt         time.Time   `json:"paid_at"`
}

// OfflineJob is a manually recorded wash for companies on the offline package.
// It carries VAT only and has no effect on the company balance.
type OfflineJob struct {
	ID           uuid.UUID `json:"id"`
	CompanyID    uuid.UUID `json:"company_id"`
	CustomerName string    `json:"customer_name"`
	CarPlate     string    `json:"car_plate"`
	ServicePrice int64     `json:"service_price"`
	VATAmount    int64     `json:"vat_amount"`
	Total        int64     `json:"total"`
	Currency     string    `json:"currency"`
	RecordedAt   time.Time `json:"recorded_at"`
}
