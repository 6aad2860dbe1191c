// Package retry provides a bounded-retry combinator for optimistic-conflict
// handling. Mutating sequence operations are read-modify-write cycles; when a
// concurrent writer wins the race the repository reports a concurrent
// modification and the whole operation is re-executed from scratch.
package retry

import (
	"context"
	"time"

	"conseq/internal/core/apperror"
)

// Policy configures the retry loop.
type Policy struct {
	// MaxAttempts is the total attempt ceiling (first try included).
	MaxAttempts int

	// Delay is the base backoff; attempt N waits Delay * N (linear backoff).
	Delay time.Duration
}

// DefaultPolicy returns the standard policy: 3 attempts, 200ms base delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       200 * time.Millisecond,
	}
}

// Do executes fn until it succeeds, fails with a non-retryable error, or the
// attempt ceiling is reached. Only optimistic-lock failures
// (apperror.CodeConcurrentModification) are retried; every other error is
// surfaced unmodified on the first occurrence.
//
// When attempts are exhausted a CONFLICT error is returned so callers can
// distinguish transient contention from permanent failures.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperror.IsConcurrentModification(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, policy.Delay*time.Duration(attempt)); err != nil {
			return err
		}
	}

	return apperror.NewConflict("operation aborted after retries under contention").
		WithDetail("attempts", policy.MaxAttempts).
		WithCause(lastErr)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
