package domain

import (
	"time"

	"github.com/google/uuid"
)

// ComplaintType distinguishes refund requests from general feedback.
type ComplaintType string

const (
	ComplaintRefundRequest ComplaintType = "refund_request"
	ComplaintGeneral       ComplaintType = "general"
)

// ComplaintStatus is the resolution state of a complaint.
type ComplaintStatus string

const (
	ComplaintPending    ComplaintStatus = "pending"
	ComplaintInProgress ComplaintStatus = "in_progress"
	ComplaintResolved   ComplaintStatus = "resolved"
	ComplaintRefunded   ComplaintStatus = "refunded"
)

// IsOpen reports whether the complaint can still be worked on.
func (s ComplaintStatus) IsOpen() bool {
	return s == ComplaintPending || s == ComplaintInProgress
}

// Complaint is a post-completion dispute raised by a customer.
type Complaint struct {
	ID              uuid.UUID       `json:"id"`
	ReferenceNumber string          `json:"reference_number"`
	JobID           uuid.UUID       `json:"job_id"`
	CompanyID       uuid.UUID       `json:"company_id"`
	Type            ComplaintType   `json:"type"`
	Status          ComplaintStatus `json:"status"`
	Customer        Customer        `json:"customer"`
	Description     string          `json:"description"`
	Resolution      *string         `json:"resolution,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}
