/**
 * @description
 * ComplaintResolver turns post-completion disputes into ledger refunds. A
 * refund request resolved with "process refund" posts the refund and marks
 * the complaint refunded in one store transaction.
 */

package complaint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/observability"
	"github.com/omerc321/washapp-sub002/pkg/gatewayclient"
)

// Repository defines the persistence the resolver needs.
type Repository interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	CreateComplaint(ctx context.Context, c *domain.Complaint) error
	GetComplaint(ctx context.Context, complaintID uuid.UUID) (*domain.Complaint, error)
	ListComplaints(ctx context.Context, companyID uuid.UUID, status *domain.ComplaintStatus) ([]domain.Complaint, error)
	TransitionComplaint(ctx context.Context, complaintID, companyID uuid.UUID, from []domain.ComplaintStatus, to domain.ComplaintStatus, resolution *string, at time.Time) (*domain.Complaint, error)
	// RefundComplaint appends entries and sets the complaint refunded atomically.
	RefundComplaint(ctx context.Context, complaintID, companyID uuid.UUID, at time.Time, entries []domain.Transaction) (*domain.Complaint, error)
}

// Ledger prepares refund entries from a job's stored breakdown.
type Ledger interface {
	PrepareRefund(ctx context.Context, job *domain.Job) ([]domain.Transaction, *domain.JobFinancial, error)
}

// Gateway refunds the customer's original charge.
type Gateway interface {
	Refund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) error
}

// EventPublisher publishes notifications.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Resolver implements the complaint state machine.
type Resolver struct {
	repo      Repository
	ledger    Ledger
	gateway   Gateway
	publisher EventPublisher
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewResolver creates a complaint resolver.
func NewResolver(repo Repository, ledgerEngine Ledger, gateway Gateway, publisher EventPublisher, logger logrus.FieldLogger) *Resolver {
	return &Resolver{
		repo:      repo,
		ledger:    ledgerEngine,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger.WithField("component", "complaints"),
		now:       time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Create files a complaint against a job that has reached a terminal state.
func (r *Resolver) Create(ctx context.Context, jobID uuid.UUID, complaintType domain.ComplaintType, customer domain.Customer, description string) (*domain.Complaint, error) {
	if complaintType != domain.ComplaintRefundRequest && complaintType != domain.ComplaintGeneral {
		complaintType = domain.ComplaintGeneral
	}
	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() || job.CompanyID == nil {
		return nil, domain.ErrInvalidTransition
	}

	now := r.now()
	c := &domain.Complaint{
		ID:              uuid.New(),
		ReferenceNumber: domain.NewReferenceNumber("CMP", now),
		JobID:           job.ID,
		CompanyID:       *job.CompanyID,
		Type:            complaintType,
		Status:          domain.ComplaintPending,
		Customer:        customer,
		Description:     strings.TrimSpace(description),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.repo.CreateComplaint(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create complaint: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"complaint_id": c.ID, "job_id": jobID, "type": complaintType}).Info("complaint created")
	return c, nil
}

// List returns a company's complaints, optionally filtered by status.
func (r *Resolver) List(ctx context.Context, companyID uuid.UUID, status *domain.ComplaintStatus) ([]domain.Complaint, error) {
	return r.repo.ListComplaints(ctx, companyID, status)
}

// Start moves a pending complaint to in_progress.
func (r *Resolver) Start(ctx context.Context, complaintID, companyID uuid.UUID) (*domain.Complaint, error) {
	return r.repo.TransitionComplaint(ctx, complaintID, companyID,
		[]domain.ComplaintStatus{domain.ComplaintPending}, domain.ComplaintInProgress, nil, r.now())
}

// Resolve closes a complaint without a refund. Resolution text is required.
func (r *Resolver) Resolve(ctx context.Context, complaintID, companyID uuid.UUID, resolution string) (*domain.Complaint, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, domain.ErrResolutionRequired
	}
	return r.repo.TransitionComplaint(ctx, complaintID, companyID,
		[]domain.ComplaintStatus{domain.ComplaintPending, domain.ComplaintInProgress}, domain.ComplaintResolved, &resolution, r.now())
}

// ProcessRefund refunds the job's full gross amount through the gateway and then
// posts the refund and marks the complaint refunded in one unit of work.
func (r *Resolver) ProcessRefund(ctx context.Context, complaintID, companyID uuid.UUID) (c *domain.Complaint, err error) {
	ctx, span := observability.StartSpan(ctx, "complaint.process_refund", attribute.String("complaint.id", complaintID.String()))
	defer func() { observability.End(span, err) }()

	current, err := r.repo.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	if current.CompanyID != companyID {
		return nil, domain.ErrComplaintNotFound
	}
	if current.Type != domain.ComplaintRefundRequest {
		return nil, domain.ErrNotRefundable
	}
	if !current.Status.IsOpen() {
		return nil, domain.ErrInvalidTransition
	}

	job, err := r.repo.GetJob(ctx, current.JobID)
	if err != nil {
		return nil, err
	}
	entries, fin, err := r.ledger.PrepareRefund(ctx, job)
	if err != nil {
		return nil, err
	}

	if err = r.gateway.Refund(ctx, job.ChargeID, fin.GrossAmount, job.ID.String()); err != nil {
		if errors.Is(err, gatewayclient.ErrDeclined) {
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayDeclined, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	now := r.now()
	c, err = r.repo.RefundComplaint(ctx, complaintID, companyID, now, entries)
	if err != nil {
		return nil, err
	}

	refund := entries[len(entries)-1]
	r.logger.WithFields(logrus.Fields{"complaint_id": complaintID, "job_id": job.ID, "reference": refund.ReferenceNumber}).Info("complaint refunded")
	if r.publisher != nil {
		event := domain.RefundEvent{
			JobID:           job.ID,
			CompanyID:       companyID,
			ComplaintID:     &c.ID,
			ReferenceNumber: refund.ReferenceNumber,
			Amount:          -refund.Amount,
			Currency:        refund.Currency,
			Reason:          "complaint",
			Timestamp:       now,
		}
		if pubErr := r.publisher.Publish(ctx, domain.EventsExchange, domain.RoutingRefundIssued, event); pubErr != nil {
			r.logger.WithError(pubErr).WithField("complaint_id", complaintID).Warn("failed to publish refund event")
		}
	}
	return c, nil
}
