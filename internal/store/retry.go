package store

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the optimistic retry loop used by ModifyBook.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// OnRetry, if set, is called before each retry with the attempt that failed.
	OnRetry func(attempt int)
}

// DefaultRetryPolicy allows 10 attempts with jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  10,
		BaseDelay: 2 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
	}
}

// Option configures a store implementation.
type Option func(*Options)

// Options collects the settings shared by every backend.
type Options struct {
	Retry RetryPolicy
}

// WithRetryPolicy replaces the conflict retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Options) { o.Retry = p }
}

// WithRetryObserver registers fn to be called on every conflict retry.
func WithRetryObserver(fn func()) Option {
	return func(o *Options) {
		o.Retry.OnRetry = func(int) { fn() }
	}
}

// BuildOptions applies opts over the defaults.
func BuildOptions(opts ...Option) Options {
	o := Options{Retry: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Retry.Attempts < 1 {
		o.Retry.Attempts = 1
	}
	return o
}

// Retry runs op until it succeeds, fails with an error isConflict rejects, or
// the policy's attempts are used up. Exhaustion returns ErrConflict wrapping the
// last conflict. The context is checked before every attempt and during backoff.
func Retry(ctx context.Context, p RetryPolicy, isConflict func(error) bool, op func() error) error {
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := contextError(ctx); err != nil {
			return err
		}

		last = op()
		if last == nil || !isConflict(last) {
			return last
		}
		if attempt == p.Attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt)
		}
		if err := sleep(ctx, p.backoff(attempt)); err != nil {
			return err
		}
	}
	return ErrConflict.WithCause(last)
}

// backoff is full jitter over an exponentially growing cap.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	ceiling := p.BaseDelay << min(attempt-1, 16)
	if p.MaxDelay > 0 && ceiling > p.MaxDelay {
		ceiling = p.MaxDelay
	}
	//nolint:gosec // jitter does not need a CSPRNG
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return contextError(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return contextError(ctx)
	case <-t.C:
		return nil
	}
}
