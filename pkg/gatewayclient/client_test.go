package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCharge_SendsIdempotencyKeyAndParsesResult(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody ChargeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/charges" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(ChargeResult{Success: true, ChargeID: "ch_1", Amount: gotBody.Amount, Currency: gotBody.Currency})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret", time.Second)
	result, err := client.Charge(context.Background(), ChargeRequest{Amount: 11235, Currency: "AED", MethodToken: "tok", IdempotencyKey: "job-1"})
	if err != nil {
		t.Fatalf("expected charge to succeed, got %v", err)
	}
	if result.ChargeID != "ch_1" || result.Amount != 11235 {
		t.Fatalf("unexpected result %+v", result)
	}
	if gotKey != "job-1" {
		t.Fatalf("expected idempotency key job-1, got %q", gotKey)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody.MethodToken != "tok" {
		t.Fatalf("expected method token in body, got %+v", gotBody)
	}
}

func TestCharge_ServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second).Charge(context.Background(), ChargeRequest{Amount: 1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRefund_DeclineIsNotUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Idempotency-Key"); got != "refund-job-9" {
			t.Errorf("unexpected idempotency key %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": "charge already refunded"})
	}))
	defer server.Close()

	err := NewClient(server.URL, "", time.Second).Refund(context.Background(), "ch_9", 500, "job-9")
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
}

func TestClient_MissingBaseURL(t *testing.T) {
	err := NewClient("", "", 0).Refund(context.Background(), "ch", 1, "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
