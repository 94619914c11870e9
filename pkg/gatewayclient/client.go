/**
 * @description
 * Client for the external payment gateway. The gateway charges or refunds a
 * fixed amount and reports success or failure; every call carries an
 * idempotency key (the job id) so retries never double-charge or double-refund.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable covers transport failures and 5xx responses. Safe to retry.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrDeclined covers 4xx responses and explicit declines. Not retried.
	ErrDeclined = errors.New("gateway declined request")
)

// ChargeRequest asks the gateway to charge a payment method.
type ChargeRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	MethodToken    string `json:"method_token"`
	IdempotencyKey string `json:"-"`
}

// ChargeResult is the gateway's confirmation of a charge.
type ChargeResult struct {
	Success  bool   `json:"success"`
	ChargeID string `json:"charge_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Message  string `json:"message,omitempty"`
}

type refundRequest struct {
	ChargeID string `json:"charge_id"`
	Amount   int64  `json:"amount"`
}

type refundResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Client talks to the gateway over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a gateway client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Charge charges req.Amount against req.MethodToken.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	var result ChargeResult
	if err := c.post(ctx, "/charges", req.IdempotencyKey, req, &result); err != nil {
		return ChargeResult{}, err
	}
	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrDeclined, result.Message)
	}
	return result, nil
}

// Refund refunds amount of a previous charge.
func (c *Client) Refund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) error {
	var result refundResult
	if err := c.post(ctx, "/refunds", "refund-"+idempotencyKey, refundRequest{ChargeID: chargeID, Amount: amount}, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrDeclined, result.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: gateway base URL is not configured", ErrUnavailable)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d: %s", ErrDeclined, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: invalid response body: %v", ErrUnavailable, err)
	}
	return nil
}
