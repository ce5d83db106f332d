package common

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy parameterizes Retry. ShouldRetry decides which errors are
// transient; a nil predicate falls back to IsRetryable.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64 // multiplier applied to Delay after each attempt; <=1 means fixed delay
	ShouldRetry func(error) bool
}

// Retry runs fn up to MaxAttempts times, sleeping between attempts.
// Exhausting the attempt budget converts the last error into a critical one.
func Retry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, op string, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	delay := policy.Delay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) || attempt == policy.MaxAttempts {
			break
		}
		if logger != nil {
			logger.Warn("retrying after error",
				"operation", op,
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"delay", delay,
				"error", lastErr)
		}
		select {
		case <-ctx.Done():
			return TimeoutError(op+" aborted while waiting to retry", ctx.Err())
		case <-time.After(delay):
		}
		if policy.Backoff > 1 {
			delay = time.Duration(float64(delay) * policy.Backoff)
		}
	}

	if shouldRetry(lastErr) && policy.MaxAttempts > 1 {
		return CriticalError(op+": retries exhausted", lastErr)
	}
	return lastErr
}
