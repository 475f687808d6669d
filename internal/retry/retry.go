package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how many times an operation is attempted and how long
// to wait between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Backoff returns the delay after failed attempt n (1-based).
	// Defaults to ExponentialSeconds.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(err error) bool

	// Sleep waits for d or until ctx is done. Tests swap it out to record
	// delays without actually waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// ExponentialSeconds waits 2^(attempt-1) seconds: 1s, 2s, 4s, ...
func ExponentialSeconds(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// cap the exponent so the shift cannot overflow
	const maxExponent = 10
	exp := attempt - 1
	if exp > maxExponent {
		exp = maxExponent
	}
	return time.Duration(1<<uint(exp)) * time.Second
}

// SleepContext blocks for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. fn receives the 1-based attempt number.
//
// A non-retryable error is returned as is. Exhaustion is reported as an
// *ExhaustedError wrapping the last failure.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialSeconds
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		// a per-attempt timeout also wraps DeadlineExceeded, only the
		// caller's context ends the loop
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}
