/**
 * @description
 * DispatchEngine owns the job lifecycle: payment capture, matching paid jobs
 * to cleaners through company geofences, race-free acceptance, progress to
 * completion, company cancellation, and the auto-refund sweep for jobs nobody
 * accepted in time.
 *
 * @notes
 * - Every transition is a single conditional write in the store; the engine
 *   never reads a status and then writes it back.
 * - Gateway calls happen before the store transaction they gate, never inside it.
 * - Notifications are fire-and-forget; a publish failure is logged only.
 */

package dispatch

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
	"github.com/omerc321/washapp-sub002/internal/geo"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/observability"
	"github.com/omerc321/washapp-sub002/pkg/gatewayclient"
)

// DefaultRefundAfter is how long a paid job may wait for a cleaner before it is refunded.
const DefaultRefundAfter = 15 * time.Minute

// Repository defines the persistence the engine needs. Every mutating method
// is one atomic, conditional unit of work.
type Repository interface {
	GetCompany(ctx context.Context, companyID uuid.UUID) (*domain.Company, error)
	GetCleaner(ctx context.Context, cleanerID uuid.UUID) (*domain.Cleaner, error)
	ListCompanyGeofences(ctx context.Context, companyID uuid.UUID) ([]domain.CompanyGeofence, error)
	GetJobFinancial(ctx context.Context, jobID uuid.UUID) (*domain.JobFinancial, error)

	CreatePaidJob(ctx context.Context, job *domain.Job, fin *domain.JobFinancial) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	ListPaidJobs(ctx context.Context, companyID uuid.UUID, paidAfter time.Time) ([]domain.Job, error)
	ListPaidJobsBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error)
	// AcceptJob sets status paid -> assigned only if the job is still paid and
	// was paid after paidAfter, and moves the cleaner on_duty -> busy.
	AcceptJob(ctx context.Context, jobID, cleanerID uuid.UUID, at, paidAfter time.Time) (*domain.Job, error)
	StartJob(ctx context.Context, jobID, cleanerID uuid.UUID, at time.Time) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID, cleanerID uuid.UUID, proof string, at time.Time, payment domain.Transaction) (*domain.Job, error)
	CancelJob(ctx context.Context, jobID, companyID uuid.UUID, reason string, at time.Time) (*domain.Job, error)
	RefundPaidJob(ctx context.Context, jobID uuid.UUID, at time.Time, entries []domain.Transaction) (*domain.Job, error)
	RateJob(ctx context.Context, jobID uuid.UUID, rating int, review string) (*domain.Job, error)
}

// Ledger is the subset of the ledger engine used by dispatch.
type Ledger interface {
	Currency() string
	Quote(ctx context.Context, companyID uuid.UUID, base, tip int64) (ledger.Breakdown, *domain.Company, error)
	NewFinancial(job *domain.Job, companyID uuid.UUID, b ledger.Breakdown, paidAt time.Time) *domain.JobFinancial
	PreparePayment(job *domain.Job, fin *domain.JobFinancial) domain.Transaction
	PrepareRefund(ctx context.Context, job *domain.Job) ([]domain.Transaction, *domain.JobFinancial, error)
}

// Gateway charges and refunds customers.
type Gateway interface {
	Charge(ctx context.Context, req gatewayclient.ChargeRequest) (gatewayclient.ChargeResult, error)
	Refund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) error
}

// EventPublisher publishes notifications.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// RateLimiter counts attempts per subject within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitError is returned when a cleaner exceeds the accept-attempt limit.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many accept attempts, retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool { return target == domain.ErrRateLimited }

// Config holds the engine thresholds.
type Config struct {
	RefundAfter              time.Duration
	AcceptRateLimitPerMinute int
}

// Engine implements the job lifecycle.
type Engine struct {
	repo      Repository
	ledger    Ledger
	gateway   Gateway
	publisher EventPublisher
	limiter   RateLimiter
	logger    logrus.FieldLogger
	cfg       Config
	now       func() time.Time
}

// NewEngine creates a dispatch engine. limiter may be nil.
func NewEngine(repo Repository, ledgerEngine Ledger, gateway Gateway, publisher EventPublisher, limiter RateLimiter, logger logrus.FieldLogger, cfg Config) *Engine {
	if cfg.RefundAfter <= 0 {
		cfg.RefundAfter = DefaultRefundAfter
	}
	return &Engine{
		repo:      repo,
		ledger:    ledgerEngine,
		gateway:   gateway,
		publisher: publisher,
		limiter:   limiter,
		logger:    logger.WithField("component", "dispatch"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Booking is the customer-supplied part of a job.
type Booking struct {
	JobID      uuid.UUID
	CompanyID  uuid.UUID
	Customer   domain.Customer
	Car        domain.Car
	Location   domain.Point
	Address    string
	BaseAmount int64
	TipAmount  int64
}

// CaptureRequest is a booking plus the gateway's confirmation of the charge.
type CaptureRequest struct {
	Booking
	ChargeID      string
	ChargedAmount int64
}

// Quote prices a booking after checking the company serves the location.
func (e *Engine) Quote(ctx context.Context, companyID uuid.UUID, location domain.Point, base, tip int64) (ledger.Breakdown, error) {
	if err := e.checkCoverage(ctx, companyID, location); err != nil {
		return ledger.Breakdown{}, err
	}
	b, _, err := e.ledger.Quote(ctx, companyID, base, tip)
	return b, err
}

// Checkout charges the customer for the quoted total and captures the payment.
// The job id is the gateway idempotency key.
func (e *Engine) Checkout(ctx context.Context, booking Booking, methodToken string) (job *domain.Job, fin *domain.JobFinancial, err error) {
	if booking.JobID == uuid.Nil {
		booking.JobID = uuid.New()
	}
	ctx, span := observability.StartSpan(ctx, "dispatch.checkout", attribute.String("job.id", booking.JobID.String()))
	defer func() { observability.End(span, err) }()

	if existing, getErr := e.repo.GetJob(ctx, booking.JobID); getErr == nil {
		fin, err = e.repo.GetJobFinancial(ctx, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		return existing, fin, nil
	} else if !errors.Is(getErr, domain.ErrJobNotFound) {
		return nil, nil, fmt.Errorf("failed to load job: %w", getErr)
	}

	quote, err := e.Quote(ctx, booking.CompanyID, booking.Location, booking.BaseAmount, booking.TipAmount)
	if err != nil {
		return nil, nil, err
	}

	charge, err := e.gateway.Charge(ctx, gatewayclient.ChargeRequest{
		Amount:         quote.GrossAmount,
		Currency:       e.ledger.Currency(),
		MethodToken:    methodToken,
		IdempotencyKey: booking.JobID.String(),
	})
	if err != nil {
		return nil, nil, gatewayError(err)
	}

	job, fin, err = e.CapturePayment(ctx, CaptureRequest{Booking: booking, ChargeID: charge.ChargeID, ChargedAmount: charge.Amount})
	if errors.Is(err, domain.ErrPaymentMismatch) {
		if refundErr := e.gateway.Refund(ctx, charge.ChargeID, charge.Amount, booking.JobID.String()); refundErr != nil {
			e.logger.WithError(refundErr).WithFields(logrus.Fields{"job_id": booking.JobID, "charge_id": charge.ChargeID}).Error("failed to reverse mismatched charge")
		}
	}
	return job, fin, err
}

// CapturePayment creates the job in paid together with its financial
// breakdown. A charged amount that differs from the expected total fails with
// ErrPaymentMismatch and writes nothing. Replaying a capture for the same job
// and charge returns the stored job.
func (e *Engine) CapturePayment(ctx context.Context, req CaptureRequest) (job *domain.Job, fin *domain.JobFinancial, err error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.capture_payment", attribute.String("job.id", req.JobID.String()))
	defer func() { observability.End(span, err) }()

	if req.JobID == uuid.Nil {
		return nil, nil, domain.ErrJobIDRequired
	}
	// A stored capture is answered before re-pricing so a redelivered event
	// never fails on fees or geofences that changed since the first capture.
	job, fin, err = e.replayCapture(ctx, req)
	if err == nil || !errors.Is(err, domain.ErrJobNotFound) {
		return job, fin, err
	}
	quote, err := e.Quote(ctx, req.CompanyID, req.Location, req.BaseAmount, req.TipAmount)
	if err != nil {
		return nil, nil, err
	}
	if req.ChargedAmount != quote.GrossAmount {
		e.logger.WithFields(logrus.Fields{"job_id": req.JobID, "expected": quote.GrossAmount, "charged": req.ChargedAmount}).Warn("payment amount mismatch")
		return nil, nil, domain.ErrPaymentMismatch
	}

	now := e.now()
	companyID := req.CompanyID
	job = &domain.Job{
		ID:         req.JobID,
		Customer:   req.Customer,
		Car:        req.Car,
		Location:   req.Location,
		Address:    strings.TrimSpace(req.Address),
		CompanyID:  &companyID,
		BaseAmount: req.BaseAmount,
		Currency:   e.ledger.Currency(),
		Status:     domain.JobStatusPaid,
		ChargeID:   req.ChargeID,
		CreatedAt:  now,
		PaidAt:     &now,
	}
	fin = e.ledger.NewFinancial(job, companyID, quote, now)

	if err = e.repo.CreatePaidJob(ctx, job, fin); err != nil {
		if errors.Is(err, domain.ErrFinancialExists) {
			return e.replayCapture(ctx, req)
		}
		return nil, nil, fmt.Errorf("failed to create paid job: %w", err)
	}

	e.logger.WithFields(logrus.Fields{"job_id": job.ID, "company_id": companyID, "gross": fin.GrossAmount}).Info("payment captured")
	return job, fin, nil
}

func (e *Engine) replayCapture(ctx context.Context, req CaptureRequest) (*domain.Job, *domain.JobFinancial, error) {
	existing, err := e.repo.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, nil, err
	}
	if existing.ChargeID != req.ChargeID {
		return nil, nil, domain.ErrFinancialExists
	}
	fin, err := e.repo.GetJobFinancial(ctx, req.JobID)
	if err != nil {
		return nil, nil, err
	}
	return existing, fin, nil
}

// AvailableJobs lists paid, still-acceptable jobs inside the cleaner company's geofences.
func (e *Engine) AvailableJobs(ctx context.Context, cleanerID uuid.UUID) ([]domain.Job, error) {
	cleaner, err := e.repo.GetCleaner(ctx, cleanerID)
	if err != nil {
		return nil, err
	}
	fences, err := e.repo.ListCompanyGeofences(ctx, cleaner.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list geofences: %w", err)
	}
	if len(fences) == 0 {
		return []domain.Job{}, nil
	}

	jobs, err := e.repo.ListPaidJobs(ctx, cleaner.CompanyID, e.now().Add(-e.cfg.RefundAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list paid jobs: %w", err)
	}
	available := make([]domain.Job, 0, len(jobs))
	for _, j := range jobs {
		if geo.Covers(cleaner.CompanyID, j.Location, fences) {
			available = append(available, j)
		}
	}
	return available, nil
}

// Accept assigns a paid job to the cleaner. Of concurrent attempts exactly one
// succeeds; the others get ErrAlreadyAssigned.
func (e *Engine) Accept(ctx context.Context, jobID, cleanerID uuid.UUID) (job *domain.Job, err error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.accept",
		attribute.String("job.id", jobID.String()),
		attribute.String("cleaner.id", cleanerID.String()),
	)
	defer func() { observability.End(span, err) }()

	if err = e.consumeAcceptLimit(ctx, cleanerID); err != nil {
		return nil, err
	}

	cleaner, err := e.repo.GetCleaner(ctx, cleanerID)
	if err != nil {
		return nil, err
	}
	current, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.CompanyID != nil && *current.CompanyID != cleaner.CompanyID {
		return nil, domain.ErrOutsideServiceArea
	}
	if current.Status == domain.JobStatusPaid {
		if err = e.checkCoverage(ctx, cleaner.CompanyID, current.Location); err != nil {
			return nil, err
		}
	}

	now := e.now()
	job, err = e.repo.AcceptJob(ctx, jobID, cleanerID, now, now.Add(-e.cfg.RefundAfter))
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyAssigned) {
			e.logger.WithFields(logrus.Fields{"job_id": jobID, "cleaner_id": cleanerID}).Info("accept lost race")
		}
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{"job_id": jobID, "cleaner_id": cleanerID}).Info("job assigned")
	e.publish(ctx, domain.RoutingJobAssigned, domain.JobEvent{JobID: job.ID, CompanyID: job.CompanyID, CleanerID: job.CleanerID, Status: job.Status, Timestamp: now})
	return job, nil
}

// Start moves an assigned job to in_progress. Only the assigned cleaner may start it.
func (e *Engine) Start(ctx context.Context, jobID, cleanerID uuid.UUID) (*domain.Job, error) {
	job, err := e.repo.StartJob(ctx, jobID, cleanerID, e.now())
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{"job_id": jobID, "cleaner_id": cleanerID}).Info("job started")
	return job, nil
}

// Complete finishes an in-progress job, returns the cleaner to on_duty and
// posts the customer_payment entry in the same unit of work.
func (e *Engine) Complete(ctx context.Context, jobID, cleanerID uuid.UUID, proof string) (job *domain.Job, err error) {
	ctx, span := observability.StartSpan(ctx, "dispatch.complete", attribute.String("job.id", jobID.String()))
	defer func() { observability.End(span, err) }()

	proof = strings.TrimSpace(proof)
	if proof == "" {
		return nil, domain.ErrProofRequired
	}

	current, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(domain.JobStatusCompleted) {
		return nil, domain.ErrInvalidTransition
	}
	if current.CleanerID == nil || *current.CleanerID != cleanerID {
		return nil, domain.ErrNotAssignedCleaner
	}
	fin, err := e.repo.GetJobFinancial(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load financial for job %s: %w", jobID, err)
	}

	payment := e.ledger.PreparePayment(current, fin)
	now := e.now()
	job, err = e.repo.CompleteJob(ctx, jobID, cleanerID, proof, now, payment)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{"job_id": jobID, "cleaner_id": cleanerID, "reference": payment.ReferenceNumber, "amount": payment.Amount}).Info("job completed")
	e.publish(ctx, domain.RoutingJobCompleted, domain.JobEvent{JobID: job.ID, CompanyID: job.CompanyID, CleanerID: job.CleanerID, Status: job.Status, Timestamp: now})
	return job, nil
}

// Cancel is the company's escape from assigned or in_progress. It does not refund;
// refunds after acceptance go through complaints.
func (e *Engine) Cancel(ctx context.Context, jobID, companyID uuid.UUID, reason string) (*domain.Job, error) {
	now := e.now()
	job, err := e.repo.CancelJob(ctx, jobID, companyID, strings.TrimSpace(reason), now)
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{"job_id": jobID, "company_id": companyID}).Info("job cancelled")
	e.publish(ctx, domain.RoutingJobCancelled, domain.JobEvent{JobID: job.ID, CompanyID: job.CompanyID, CleanerID: job.CleanerID, Status: job.Status, Timestamp: now})
	return job, nil
}

// Rate stores the customer's rating for a completed job, once.
func (e *Engine) Rate(ctx context.Context, jobID uuid.UUID, rating int, review string) (*domain.Job, error) {
	if rating < 1 || rating > 5 {
		return nil, domain.ErrInvalidRating
	}
	return e.repo.RateJob(ctx, jobID, rating, strings.TrimSpace(review))
}

// Job returns a job by id.
func (e *Engine) Job(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return e.repo.GetJob(ctx, jobID)
}

func (e *Engine) checkCoverage(ctx context.Context, companyID uuid.UUID, p domain.Point) error {
	fences, err := e.repo.ListCompanyGeofences(ctx, companyID)
	if err != nil {
		return fmt.Errorf("failed to list geofences: %w", err)
	}
	if !geo.Covers(companyID, p, fences) {
		return domain.ErrOutsideServiceArea
	}
	return nil
}

func (e *Engine) consumeAcceptLimit(ctx context.Context, cleanerID uuid.UUID) error {
	if e.limiter == nil || e.cfg.AcceptRateLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := e.limiter.ConsumeRateLimit(ctx, "job_accept", cleanerID.String(), e.cfg.AcceptRateLimitPerMinute, time.Minute)
	if err != nil {
		// Fail open; the conditional update still guards correctness.
		e.logger.WithError(err).WithField("cleaner_id", cleanerID).Warn("accept rate limiter unavailable")
		return nil
	}
	if count > e.cfg.AcceptRateLimitPerMinute {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, routingKey string, body interface{}) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		e.logger.WithError(err).WithField("routing_key", routingKey).Warn("failed to publish event")
	}
}

func gatewayError(err error) error {
	if errors.Is(err, gatewayclient.ErrDeclined) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayDeclined, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
}
