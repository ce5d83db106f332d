package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, nil, "flaky", func() error {
		calls++
		if calls < 3 {
			return OCRError("transient", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustionBecomesCritical(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}, nil, "doomed", func() error {
		calls++
		return OCRError("still broken", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, HasCode(err, CodeCritical))
	assert.True(t, HasCode(err, CodeOCR)) // original cause stays reachable
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, nil, "fatal", func() error {
		calls++
		return ValidationError("bad input", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, HasCode(err, CodeValidation))
	assert.False(t, HasCode(err, CodeCritical))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{MaxAttempts: 3, Delay: time.Hour}, nil, "cancelled", func() error {
		return RetryableError("transient", nil)
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeTimeout))
}

func TestRetryExponentialBackoff(t *testing.T) {
	start := time.Now()
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Millisecond, Backoff: 2}, nil, "backoff", func() error {
		return RetryableError("transient", nil)
	})
	require.Error(t, err)
	// Two waits: 10ms then 20ms.
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRetryCustomPredicate(t *testing.T) {
	sentinel := errors.New("special")
	calls := 0
	policy := RetryPolicy{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		ShouldRetry: func(err error) bool { return errors.Is(err, sentinel) },
	}
	err := Retry(context.Background(), policy, nil, "custom", func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
