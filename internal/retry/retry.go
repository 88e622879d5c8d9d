// Package retry runs remote calls in a bounded loop with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Defaults used when a Policy field is left zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxJitter   = 250 * time.Millisecond
)

// Policy configures attempts and delays.
// The delay before attempt n+1 is BaseDelay*2^(n-1) plus a random jitter in [0, MaxJitter).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// Default returns the standard three-attempt policy.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxJitter: DefaultMaxJitter}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the inner error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the backoff before the attempt that follows attempt (1-based), without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Do calls op until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err //nolint:wrapcheck // context errors pass through
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt) + p.randomJitter()
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.wait(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

func (p Policy) randomJitter() time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	if p.jitter != nil {
		return p.jitter(p.MaxJitter)
	}
	return rand.N(p.MaxJitter) //nolint:gosec // jitter, not security
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // context errors pass through
	case <-timer.C:
		return nil
	}
}
