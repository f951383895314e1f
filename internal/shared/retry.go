package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds a retry loop with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy retries three times starting at 25ms: 25ms, 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 25 * time.Millisecond}
}

// Retry calls fn until it succeeds, returns an error retryable rejects, or
// MaxAttempts is reached. The delay doubles after each failed attempt. The
// last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, op string, retryable func(error) bool, fn func() error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for i := 0; i < maxAttempts; i++ {
		err = fn()
		if err == nil || !retryable(err) || i == maxAttempts-1 {
			return err
		}

		delay := policy.BaseDelay * time.Duration(1<<i) // exponential backoff
		slog.Debug("Retrying after conflict",
			"op", op,
			"attempt", i+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
