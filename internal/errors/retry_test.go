package errors

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(2), nil, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return fmt.Errorf("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := fmt.Errorf("chat not found")
	err := Retry(context.Background(), fastRetryConfig(3), nil, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Fatalf("expected permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(2), nil, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetryConfig(2), nil, func(ctx context.Context) error {
		t.Fatal("fn should not run with cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
