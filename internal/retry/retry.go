// Package retry re-runs operations that fail with transient storage errors.
//
// Backoff is randomized exponential: a uniform 100-500ms jitter plus
// 2^attempt * 100ms. After MaxRetries failed retries the last error is
// wrapped in a MaxRetriesExceededError, which is fatal for the caller's
// current unit of work.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// DefaultMaxRetries is the retry cap when Policy.MaxRetries is zero.
const DefaultMaxRetries = 5

const (
	jitterMin = 100 * time.Millisecond
	jitterMax = 500 * time.Millisecond
	baseDelay = 100 * time.Millisecond
)

// ErrMaxRetriesExceeded is matched by errors.Is on every
// MaxRetriesExceededError.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// MaxRetriesExceededError carries the last transient error.
type MaxRetriesExceededError struct {
	Attempts int
	Err      error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MaxRetriesExceededError) Unwrap() error { return e.Err }

// Is reports ErrMaxRetriesExceeded as a match.
func (e *MaxRetriesExceededError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// Policy configures Do. The zero value is usable.
type Policy struct {
	// MaxRetries caps the number of retries after the first attempt.
	MaxRetries int

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns the random component of each delay. Defaults to a
	// uniform draw from [100ms, 500ms].
	Jitter func() time.Duration

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)

	Logger *slog.Logger
}

func (p Policy) maxRetries() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

// Delay returns the backoff before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	if attempt > 30 {
		attempt = 30
	}
	return jitter() + (time.Duration(1)<<attempt)*baseDelay
}

func defaultJitter() time.Duration {
	return jitterMin + rand.N(jitterMax-jitterMin+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, fails with an error isTransient rejects,
// or exhausts the retry cap. op must be safe to re-execute from scratch.
func (p Policy) Do(ctx context.Context, isTransient func(error) bool, op func(ctx context.Context) error) error {
	sleepFn := p.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	max := p.maxRetries()
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt >= max {
			return &MaxRetriesExceededError{Attempts: attempt + 1, Err: err}
		}

		d := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		logger.Debug("transient error, retrying", "attempt", attempt+1, "delay", d, "error", err)
		if err := sleepFn(ctx, d); err != nil {
			return err
		}
	}
}
