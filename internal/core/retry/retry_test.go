package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"conseq/internal/core/apperror"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Delay: time.Millisecond}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesConflictThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperror.NewConcurrentModification("sequence", "s1")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonRetryableSurfacesImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error retried: %d calls", calls)
	}
}

func TestDo_ExhaustionYieldsConflict(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return apperror.NewConcurrentModification("sequence", "s1")
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !apperror.IsConflict(err) {
		t.Errorf("expected conflict after exhaustion, got %v", err)
	}
	// The final error must not look retryable itself.
	if apperror.IsConcurrentModification(err) {
		t.Error("exhaustion error still reports concurrent modification")
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, Delay: time.Minute}, func(ctx context.Context) error {
		calls++
		cancel()
		return apperror.NewConcurrentModification("sequence", "s1")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
