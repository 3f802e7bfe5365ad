// Package retry re-issues failed remote calls according to a Policy.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/gobdpan/bdpan/internal/panerr"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 10 * time.Second
)

// Policy decides how often and how long apart a failed call is re-issued.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int

	// Backoff returns the wait before attempt n+1, n starting at 1.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err may be retried. Defaults to panerr.IsRetryable.
	Retryable func(err error) bool

	Logger *slog.Logger
}

// Default is 3 attempts with a fixed 10s delay between them
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     Fixed(DefaultDelay),
		Retryable:   panerr.IsRetryable,
	}
}

// None never retries
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Fixed waits d between every attempt
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential doubles base on every attempt up to max
func Exponential(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return min(d, max)
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return panerr.IsRetryable(err)
	}
	return p.Retryable(err)
}

func (p Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for calls returning a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		res T
		err error
	)

	max := p.attempts()
	for attempt := 1; ; attempt++ {
		res, err = fn(ctx)
		if err == nil || attempt >= max || !p.retryable(err) {
			return res, err
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		p.logger().Warn("retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)

		if wait <= 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, err
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, err
		case <-timer.C:
		}
	}
}
