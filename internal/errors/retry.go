package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	MaxAttempts  int           // additional attempts after the first (default: 1)
	BaseDelay    time.Duration // base delay for exponential backoff (default: 500ms)
	MaxDelay     time.Duration // cap on the delay between attempts (default: 5s)
	JitterFactor float64       // randomization factor (default: 0.25 = ±25%)
}

// DefaultRetryConfig returns the defaults used by the notification path.
// Delivery is best-effort: one retry, short backoff, then report.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  1,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryLogger receives retry progress messages.
type RetryLogger interface {
	Debug(format string, args ...any)
	Warn(format string, args ...any)
}

// Retry executes fn, retrying transient failures with exponential backoff.
// Permanent failures and context cancellation stop the loop immediately.
func Retry(ctx context.Context, config RetryConfig, logger RetryLogger, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			if logger != nil {
				logger.Warn("retries exhausted after %d attempts: %v", attempt+1, err)
			}
			break
		}

		delay := calculateBackoff(attempt, config)
		if logger != nil {
			logger.Debug("transient failure (attempt %d/%d), retrying in %v: %v",
				attempt+1, config.MaxAttempts+1, delay, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return lastErr
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	base := config.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = base
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return delay
}
