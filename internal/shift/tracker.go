/**
 * @description
 * ShiftTracker owns cleaner presence: going on and off duty, location
 * heartbeats, and the staleness sweep that force-closes shifts whose
 * heartbeat has gone silent.
 *
 * @notes
 * - Every close (manual or swept) is one store call that closes the shift and
 *   sets the cleaner off duty together, conditioned on the cleaner still being
 *   on duty, so a sweep racing a manual off-duty closes the shift once.
 */

package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/observability"
)

// DefaultStaleAfter is how long an on-duty cleaner may go without a heartbeat.
const DefaultStaleAfter = 10 * time.Minute

// Repository defines the persistence the tracker needs.
type Repository interface {
	GetCleaner(ctx context.Context, cleanerID uuid.UUID) (*domain.Cleaner, error)
	OpenShift(ctx context.Context, s *domain.CleanerShift) error
	UpdateCleanerLocation(ctx context.Context, cleanerID uuid.UUID, p domain.Point, at time.Time) error
	CloseShift(ctx context.Context, cleanerID uuid.UUID, at time.Time, end *domain.Point, staleBefore *time.Time) (*domain.CleanerShift, error)
	ListStaleCleaners(ctx context.Context, cutoff time.Time) ([]domain.Cleaner, error)
	GetOpenShift(ctx context.Context, cleanerID uuid.UUID) (*domain.CleanerShift, error)
	ListShifts(ctx context.Context, cleanerID uuid.UUID, limit int) ([]domain.CleanerShift, error)
}

// EventPublisher publishes notifications. Failures never affect shift state.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Tracker implements the cleaner presence state machine.
type Tracker struct {
	repo       Repository
	publisher  EventPublisher
	logger     logrus.FieldLogger
	staleAfter time.Duration
	now        func() time.Time
}

// SweepResult summarizes one staleness sweep.
type SweepResult struct {
	Evaluated int
	Closed    int
	Repaired  int
	Skipped   int
	Failed    int
}

// NewTracker creates a shift tracker. A non-positive staleAfter uses DefaultStaleAfter.
func NewTracker(repo Repository, publisher EventPublisher, logger logrus.FieldLogger, staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{
		repo:       repo,
		publisher:  publisher,
		logger:     logger.WithField("component", "shift_tracker"),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// GoOnDuty opens a shift. It fails with ErrShiftAlreadyOpen when one is open.
func (t *Tracker) GoOnDuty(ctx context.Context, cleanerID uuid.UUID, location *domain.Point) (s *domain.CleanerShift, err error) {
	ctx, span := observability.StartSpan(ctx, "shift.go_on_duty", attribute.String("cleaner.id", cleanerID.String()))
	defer func() { observability.End(span, err) }()

	cleaner, err := t.repo.GetCleaner(ctx, cleanerID)
	if err != nil {
		return nil, err
	}

	s = &domain.CleanerShift{
		ID:            uuid.New(),
		CleanerID:     cleaner.ID,
		CompanyID:     cleaner.CompanyID,
		ShiftStart:    t.now(),
		StartLocation: location,
	}
	if err = t.repo.OpenShift(ctx, s); err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{"cleaner_id": cleanerID, "shift_id": s.ID}).Info("shift opened")
	return s, nil
}

// Heartbeat records the cleaner's location. It never touches the shift record.
func (t *Tracker) Heartbeat(ctx context.Context, cleanerID uuid.UUID, p domain.Point) error {
	return t.repo.UpdateCleanerLocation(ctx, cleanerID, p, t.now())
}

// GoOffDuty closes the open shift. A busy cleaner must finish the job first.
// Returns a nil shift when the cleaner had none open and only the status was corrected.
func (t *Tracker) GoOffDuty(ctx context.Context, cleanerID uuid.UUID, location *domain.Point) (s *domain.CleanerShift, err error) {
	ctx, span := observability.StartSpan(ctx, "shift.go_off_duty", attribute.String("cleaner.id", cleanerID.String()))
	defer func() { observability.End(span, err) }()

	s, err = t.repo.CloseShift(ctx, cleanerID, t.now(), location, nil)
	if err != nil {
		return nil, err
	}
	if s == nil {
		t.logger.WithFields(logrus.Fields{"cleaner_id": cleanerID, "error": domain.ErrDataInconsistency}).Warn("on-duty cleaner had no open shift; status corrected")
		return nil, nil
	}
	t.logger.WithFields(logrus.Fields{"cleaner_id": cleanerID, "shift_id": s.ID, "duration_minutes": *s.DurationMinutes}).Info("shift closed")
	return s, nil
}

// CurrentShift returns the cleaner's open shift.
func (t *Tracker) CurrentShift(ctx context.Context, cleanerID uuid.UUID) (*domain.CleanerShift, error) {
	return t.repo.GetOpenShift(ctx, cleanerID)
}

// History lists the cleaner's shifts, newest first.
func (t *Tracker) History(ctx context.Context, cleanerID uuid.UUID, limit int) ([]domain.CleanerShift, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return t.repo.ListShifts(ctx, cleanerID, limit)
}

// SweepStale force-closes shifts of on-duty cleaners whose last heartbeat is
// missing or older than the staleness threshold. Per-cleaner errors are logged
// and the sweep continues.
func (t *Tracker) SweepStale(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := t.now()
	cutoff := now.Add(-t.staleAfter)

	cleaners, err := t.repo.ListStaleCleaners(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to list stale cleaners: %w", err)
	}

	for _, c := range cleaners {
		result.Evaluated++
		log := t.logger.WithField("cleaner_id", c.ID)

		s, err := t.repo.CloseShift(ctx, c.ID, now, c.LastLocation, &cutoff)
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			// Went off duty, became busy or sent a heartbeat since listing.
			result.Skipped++
			continue
		case err != nil:
			result.Failed++
			log.WithError(err).Error("failed to force-close stale shift")
			continue
		case s == nil:
			result.Repaired++
			log.WithField("error", domain.ErrDataInconsistency).Warn("on-duty cleaner had no open shift; status corrected")
		default:
			result.Closed++
			log.WithFields(logrus.Fields{"shift_id": s.ID, "duration_minutes": *s.DurationMinutes}).Info("stale shift force-closed")
		}

		var shiftID *uuid.UUID
		if s != nil {
			shiftID = &s.ID
		}
		t.publish(ctx, domain.ShiftEvent{CleanerID: c.ID, CompanyID: c.CompanyID, ShiftID: shiftID, Reason: "heartbeat_timeout", Timestamp: now})
	}
	return result, nil
}

func (t *Tracker) publish(ctx context.Context, event domain.ShiftEvent) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, domain.EventsExchange, domain.RoutingShiftExpired, event); err != nil {
		t.logger.WithError(err).WithField("cleaner_id", event.CleanerID).Warn("failed to publish shift event")
	}
}
