package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

// RefundSweepResult summarizes one auto-refund sweep.
type RefundSweepResult struct {
	Evaluated int
	Refunded  int
	Retrying  int
	Skipped   int
	Failed    int
}

// SweepExpiredPayments refunds paid jobs nobody accepted within the refund
// window. The gateway refund runs first, outside any store transaction; the
// job only becomes refunded, together with its ledger entries, once the
// gateway confirms. A gateway failure leaves the job paid for the next tick.
// Acceptance is closed for these jobs, so no cleaner can claim one mid-refund.
func (e *Engine) SweepExpiredPayments(ctx context.Context) (RefundSweepResult, error) {
	var result RefundSweepResult
	cutoff := e.now().Add(-e.cfg.RefundAfter)

	jobs, err := e.repo.ListPaidJobsBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to list expired paid jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		result.Evaluated++
		log := e.logger.WithFields(logrus.Fields{"job_id": job.ID, "charge_id": job.ChargeID})

		entries, fin, err := e.ledger.PrepareRefund(ctx, job)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyRefunded) {
				result.Skipped++
				log.WithField("error", domain.ErrDataInconsistency).Warn("paid job already has a refund entry; skipping")
				continue
			}
			result.Failed++
			log.WithError(err).Error("failed to prepare refund")
			continue
		}

		if err := e.gateway.Refund(ctx, job.ChargeID, fin.GrossAmount, job.ID.String()); err != nil {
			result.Retrying++
			log.WithError(gatewayError(err)).Warn("gateway refund failed; job stays paid until next sweep")
			continue
		}

		now := e.now()
		refunded, err := e.repo.RefundPaidJob(ctx, job.ID, now, entries)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				result.Skipped++
				log.WithField("error", domain.ErrDataInconsistency).Warn("job left paid state after gateway refund")
				continue
			}
			result.Failed++
			log.WithError(err).Error("failed to record refund; gateway refund will be replayed idempotently next sweep")
			continue
		}

		refund := entries[len(entries)-1]
		result.Refunded++
		log.WithFields(logrus.Fields{"reference": refund.ReferenceNumber, "amount": refund.Amount}).Info("unaccepted job auto-refunded")
		e.publish(ctx, domain.RoutingRefundIssued, domain.RefundEvent{
			JobID:           refunded.ID,
			CompanyID:       fin.CompanyID,
			ReferenceNumber: refund.ReferenceNumber,
			Amount:          -refund.Amount,
			Currency:        refund.Currency,
			Reason:          "no_cleaner_accepted",
			Timestamp:       now,
		})
	}

	if result.Evaluated > 0 {
		e.logger.WithFields(logrus.Fields{
			"evaluated": result.Evaluated,
			"refunded":  result.Refunded,
			"retrying":  result.Retrying,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		}).Info("auto-refund sweep finished")
	}
	return result, nil
}
