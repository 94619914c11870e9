package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventsExchange is the topic exchange notifications are published to.
const EventsExchange = "washapp.events"

const (
	RoutingJobAssigned  = "job.assigned"
	RoutingJobCompleted = "job.completed"
	RoutingJobCancelled = "job.cancelled"
	RoutingRefundIssued = "refund.issued"
	RoutingShiftExpired = "shift.force_closed"

	// RoutingPaymentCaptured is consumed, not published: the gateway relay
	// announces charges made outside of checkout.
	RoutingPaymentCaptured = "payment.captured"
)

// JobEvent is the payload for job lifecycle notifications.
type JobEvent struct {
	JobID     uuid.UUID  `json:"job_id"`
	CompanyID *uuid.UUID `json:"company_id,omitempty"`
	CleanerID *uuid.UUID `json:"cleaner_id,omitempty"`
	Status    JobStatus  `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// RefundEvent is published once a refund has been posted to the ledger.
type RefundEvent struct {
	JobID           uuid.UUID  `json:"job_id"`
	CompanyID       uuid.UUID  `json:"company_id"`
	ComplaintID     *uuid.UUID `json:"complaint_id,omitempty"`
	ReferenceNumber string     `json:"reference_number"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Reason          string     `json:"reason"`
	Timestamp       time.Time  `json:"timestamp"`
}

// ShiftEvent is published when the staleness sweep force-closes a shift.
type ShiftEvent struct {
	CleanerID uuid.UUID  `json:"cleaner_id"`
	CompanyID uuid.UUID  `json:"company_id"`
	ShiftID   *uuid.UUID `json:"shift_id,omitempty"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
}

// PaymentCapturedEvent is the gateway relay's notice that a booking was charged.
type PaymentCapturedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	CompanyID     uuid.UUID `json:"company_id"`
	Customer      Customer  `json:"customer"`
	Car           Car       `json:"car"`
	Location      Point     `json:"location"`
	Address       string    `json:"address,omitempty"`
	BaseAmount    int64     `json:"base_amount"`
	TipAmount     int64     `json:"tip_amount"`
	ChargeID      string    `json:"charge_id"`
	ChargedAmount int64     `json:"charged_amount"`
}
