package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
)

// PaymentCapturer creates the paid job for a confirmed charge.
type PaymentCapturer interface {
	CapturePayment(ctx context.Context, req dispatch.CaptureRequest) (*domain.Job, *domain.JobFinancial, error)
}

// ChargeReverser refunds a charge that can never become a job.
type ChargeReverser interface {
	Refund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) error
}

// rejectedCaptures are permanent: redelivery cannot make them succeed, so the
// customer's charge is reversed instead.
var rejectedCaptures = []error{
	domain.ErrPaymentMismatch,
	domain.ErrOutsideServiceArea,
	domain.ErrCompanyNotFound,
	domain.ErrInvalidAmount,
	domain.ErrInvalidPackage,
	domain.ErrFinancialExists,
}

// PaymentConsumer turns payment.captured deliveries into paid jobs.
type PaymentConsumer struct {
	capturer PaymentCapturer
	reverser ChargeReverser
	logger   logrus.FieldLogger
	timeout  time.Duration
}

// NewPaymentConsumer creates the consumer for gateway capture events.
func NewPaymentConsumer(capturer PaymentCapturer, reverser ChargeReverser, logger logrus.FieldLogger) *PaymentConsumer {
	return &PaymentConsumer{
		capturer: capturer,
		reverser: reverser,
		logger:   logger.WithField("component", "payment_consumer"),
		timeout:  15 * time.Second,
	}
}

// HandleMessage reports whether the delivery is settled. Malformed and
// permanently rejected events are settled; transient failures are retried.
func (c *PaymentConsumer) HandleMessage(body []byte) bool {
	var event domain.PaymentCapturedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.WithError(err).Error("failed to unmarshal payment event; dropping")
		return true
	}
	log := c.logger.WithFields(logrus.Fields{"job_id": event.JobID, "charge_id": event.ChargeID})
	if event.ChargeID == "" {
		log.Error("payment event without charge id; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	job, _, err := c.capturer.CapturePayment(ctx, dispatch.CaptureRequest{
		Booking: dispatch.Booking{
			JobID:      event.JobID,
			CompanyID:  event.CompanyID,
			Customer:   event.Customer,
			Car:        event.Car,
			Location:   event.Location,
			Address:    event.Address,
			BaseAmount: event.BaseAmount,
			TipAmount:  event.TipAmount,
		},
		ChargeID:      event.ChargeID,
		ChargedAmount: event.ChargedAmount,
	})
	if err == nil {
		log.WithField("status", job.Status).Info("payment event captured")
		return true
	}
	if errors.Is(err, domain.ErrJobIDRequired) {
		log.WithError(err).Error("payment event without job id; dropping")
		return true
	}
	if !isRejectedCapture(err) {
		log.WithError(err).Warn("payment capture failed; will retry")
		return false
	}

	log.WithError(err).Error("payment capture rejected; reversing charge")
	if refundErr := c.reverser.Refund(ctx, event.ChargeID, event.ChargedAmount, "reverse:"+event.ChargeID); refundErr != nil {
		log.WithError(refundErr).Error("failed to reverse rejected charge; will retry")
		return false
	}
	return true
}

func isRejectedCapture(err error) bool {
	for _, target := range rejectedCaptures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
