// Package retry executes remote calls, retrying only on rate limiting.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/Mister-97/mappa-pro/internal/apperr"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxJitter  = 500 * time.Millisecond
)

// Options configures Do. The zero value uses the defaults.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxJitter  time.Duration

	// Test hooks.
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Jitter func(max time.Duration) time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxJitter <= 0 {
		o.MaxJitter = DefaultMaxJitter
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Jitter == nil {
		o.Jitter = func(max time.Duration) time.Duration {
			return rand.N(max)
		}
	}
	return o
}

// Do runs call and retries it while it fails with HTTP 429, up to
// MaxRetries times. Every other error is returned unmodified, as is the
// last 429 once retries are exhausted.
func Do[T any](ctx context.Context, opts Options, call func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	for attempt := 0; ; attempt++ {
		res, err := call(ctx)
		if err == nil || !apperr.IsRateLimited(err) || attempt >= opts.MaxRetries {
			return res, err
		}

		wait := Wait(attempt, opts, err)
		if sErr := opts.Sleep(ctx, wait); sErr != nil {
			var zero T
			return zero, sErr
		}
	}
}

// Wait computes the delay before retry number attempt (0-based). A
// Retry-After header on err wins; otherwise exponential backoff plus
// jitter in [0, MaxJitter).
func Wait(attempt int, opts Options, err error) time.Duration {
	opts = opts.withDefaults()
	if d, ok := apperr.RetryAfter(err, opts.Now()); ok {
		return d
	}
	return Backoff(attempt, opts.BaseDelay) + opts.Jitter(opts.MaxJitter)
}

// Backoff is base * 2^attempt.
func Backoff(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(1<<attempt)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
