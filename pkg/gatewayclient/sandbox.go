package gatewayclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sandbox approves every charge and refund. It is used when no gateway base
// URL is configured, so local runs exercise the full payment path.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]ChargeResult
	logger  logrus.FieldLogger
}

// NewSandbox creates a sandbox gateway.
func NewSandbox(logger logrus.FieldLogger) *Sandbox {
	return &Sandbox{charges: make(map[string]ChargeResult), logger: logger.WithField("component", "gateway_sandbox")}
}

// Charge replays the stored result for a repeated idempotency key.
func (s *Sandbox) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return prior, nil
	}
	result := ChargeResult{Success: true, ChargeID: "sbx_" + uuid.NewString(), Amount: req.Amount, Currency: req.Currency}
	s.charges[req.IdempotencyKey] = result
	s.logger.WithFields(logrus.Fields{"charge_id": result.ChargeID, "amount": req.Amount}).Warn("sandbox charge approved")
	return result, nil
}

func (s *Sandbox) Refund(_ context.Context, chargeID string, amount int64, _ string) error {
	s.logger.WithFields(logrus.Fields{"charge_id": chargeID, "amount": amount}).Warn("sandbox refund approved")
	return nil
}
