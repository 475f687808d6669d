package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func TestExponentialSeconds(t *testing.T) {
	t.Parallel()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := ExponentialSeconds(i + 1); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
	if got := ExponentialSeconds(0); got != time.Second {
		t.Fatalf("attempt 0 should clamp to 1s, got %s", got)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Sleep: rec.sleep}, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(rec.waits) != 2 || rec.waits[0] != time.Second || rec.waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits: %v", rec.waits)
	}
}

func TestDoExhausts(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, Sleep: rec.sleep}, func(context.Context, int) error {
		calls++
		return boom
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 4 || calls != 4 {
		t.Fatalf("expected 4 attempts, got %d (calls %d)", exhausted.Attempts, calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("exhausted error should wrap the last failure")
	}

	var total time.Duration
	for _, w := range rec.waits {
		total += w
	}
	if total != 7*time.Second {
		t.Fatalf("expected 7s of backoff, got %s", total)
	}
}

func TestDoNonRetryable(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Sleep:       rec.sleep,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context, int) error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatalf("non-retryable error must not be reported as exhaustion")
	}
	if calls != 1 || len(rec.waits) != 0 {
		t.Fatalf("expected a single call and no waits, got %d calls, %v", calls, rec.waits)
	}
}

func TestDoContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3}, func(context.Context, int) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls on cancelled context, got %d", calls)
	}
}

func TestDoRetriesAttemptDeadline(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Sleep:       rec.sleep,
		Retryable:   func(error) bool { return true },
	}, func(context.Context, int) error {
		calls++
		return fmt.Errorf("attempt timed out: %w", context.DeadlineExceeded)
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("exhausted error should wrap the attempt deadline")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(rec.waits) != 2 || rec.waits[0] != time.Second || rec.waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits: %v", rec.waits)
	}
}

func TestDoStopsWhenCallerContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &sleepRecorder{}
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3, Sleep: rec.sleep}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("aborted mid-flight")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 || len(rec.waits) != 0 {
		t.Fatalf("expected a single call and no waits, got %d calls, %v", calls, rec.waits)
	}
}
