/**
 * @description
 * Scheduled job implementations: the shift-staleness sweep and the
 * auto-refund sweep for paid jobs nobody accepted.
 */
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/shift"
)

// ShiftSweeper closes shifts of cleaners whose heartbeat went stale.
type ShiftSweeper interface {
	SweepStale(ctx context.Context) (shift.SweepResult, error)
}

// RefundSweeper refunds paid jobs past the acceptance window.
type RefundSweeper interface {
	SweepExpiredPayments(ctx context.Context) (dispatch.RefundSweepResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	shifts  ShiftSweeper
	refunds RefundSweeper
	logger  logrus.FieldLogger
	timeout time.Duration
}

// NewJobs creates a new Jobs runner. Each run is bounded by timeout.
func NewJobs(shifts ShiftSweeper, refunds RefundSweeper, logger logrus.FieldLogger, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = 50 * time.Second
	}
	return &Jobs{
		shifts:  shifts,
		refunds: refunds,
		logger:  logger.WithField("component", "scheduler"),
		timeout: timeout,
	}
}

// SweepStaleShifts force-closes shifts with no recent heartbeat.
func (j *Jobs) SweepStaleShifts() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.shifts.SweepStale(ctx)
	if err != nil {
		j.logger.WithError(err).Error("shift staleness sweep failed")
		return
	}
	j.logger.WithFields(logrus.Fields{
		"evaluated": result.Evaluated,
		"closed":    result.Closed,
		"repaired":  result.Repaired,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}).Debug("shift staleness sweep finished")
}

// SweepExpiredPayments refunds paid jobs that were never accepted.
func (j *Jobs) SweepExpiredPayments() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.refunds.SweepExpiredPayments(ctx)
	if err != nil {
		j.logger.WithError(err).Error("auto-refund sweep failed")
		return
	}
	j.logger.WithFields(logrus.Fields{
		"evaluated": result.Evaluated,
		"refunded":  result.Refunded,
		"retrying":  result.Retrying,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}).Debug("auto-refund sweep finished")
}
