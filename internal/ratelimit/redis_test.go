package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestParseWindowResult(t *testing.T) {
	count, retry, err := parseWindowResult([]interface{}{int64(3), int64(1500)}, 60000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 || retry != 2 {
		t.Fatalf("expected 3 attempts retry 2s, got %d/%d", count, retry)
	}

	_, retry, err = parseWindowResult([]interface{}{int64(1), int64(-1)}, 60000)
	if err != nil || retry != 60 {
		t.Fatalf("expected window fallback of 60s, got %d (err %v)", retry, err)
	}

	_, retry, _ = parseWindowResult([]interface{}{int64(1), int64(0)}, 60000)
	if retry != 1 {
		t.Fatalf("expected minimum retry of 1s, got %d", retry)
	}

	if _, _, err := parseWindowResult("nope", 1000); err == nil {
		t.Fatalf("expected shape error")
	}
	if _, _, err := parseWindowResult([]interface{}{"1", int64(0)}, 1000); err == nil {
		t.Fatalf("expected count type error")
	}
}

func TestConsumeRateLimit_NoopWithoutClient(t *testing.T) {
	var nilLimiter *RedisLimiter
	count, retry, err := nilLimiter.ConsumeRateLimit(context.Background(), "job_accept", "c1", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("expected no-op on nil limiter, got %d/%d/%v", count, retry, err)
	}

	limiter := NewRedisLimiter(nil, "  wash:  ")
	if limiter.prefix != "wash" {
		t.Fatalf("expected trimmed prefix, got %q", limiter.prefix)
	}
	count, _, err = limiter.ConsumeRateLimit(context.Background(), "job_accept", "c1", 5, time.Minute)
	if err != nil || count != 0 {
		t.Fatalf("expected no-op without client, got %d/%v", count, err)
	}
}
