package services

import (
	"context"
	"time"
)

// RetryPolicy makes the backoff math testable apart from network calls.
// DelayForAttempt receives the zero-based attempt that just failed plus its
// error, so rate-limit failures can back off differently from the rest.
type RetryPolicy struct {
	MaxAttempts     int
	IsRetryable     func(err error) bool
	DelayForAttempt func(attempt int, err error) time.Duration

	// Sleep is swapped out by tests; nil means a context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry runs fn up to MaxAttempts times, sleeping per policy between
// attempts. The last error is returned once attempts are exhausted or fn
// fails with a non-retryable error.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := time.Duration(0)
		if p.DelayForAttempt != nil {
			delay = p.DelayForAttempt(attempt, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
