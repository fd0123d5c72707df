// Package retry runs remote calls under a bounded, linearly backed-off retry
// policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Policy retries an operation up to MaxAttempts times, sleeping
// BaseDelay*attempt between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      zerolog.Logger

	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a Permanent error, or attempts run
// out. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	limit := p.attempts()
	for attempt := 1; attempt <= limit; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var perm permanent
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		p.Logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Int("max_attempts", limit).Msg("attempt failed")

		if attempt < limit {
			if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
				return zero, lastErr
			}
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
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
