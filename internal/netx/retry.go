package netx

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryOptions configures attempt count and capped exponential backoff.
//
// Attempts is the total number of attempts. The first retry waits BaseDelay,
// every following retry doubles the previous delay up to MaxDelay, and a random
// jitter in [0, Jitter] is added on top of each computed delay. No delay is
// applied after the final attempt.
type RetryOptions struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
	// Notify, if set, is called once per failed attempt with the delay that
	// precedes the next attempt (zero after the final attempt).
	Notify func(attempt int, err error, delay time.Duration)
}

// DefaultRetryOptions returns the canonical fetch policy: 5 attempts, 5s base,
// 60s cap, up to 1s jitter.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{Attempts: 5, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, Jitter: time.Second}
}

// withDefaults fills unset counts and delays from DefaultRetryOptions. A zero
// Jitter stays zero.
func (o RetryOptions) withDefaults() RetryOptions {
	def := DefaultRetryOptions()
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	return o
}

// sleepFn waits for d or until ctx is done. Tests replace it to observe delays.
var sleepFn = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryOperation executes fn until success, context cancellation, a permanent
// failure, or attempts are exhausted.
//
// fn receives the 1-based attempt number. Errors wrapped as permanentError stop
// the loop immediately and are returned as-is; callers unwrap at boundaries
// with unwrapPermanent. When attempts are exhausted the last error from fn is
// returned.
func RetryOperation[T interface{}](ctx context.Context, opts RetryOptions, fn func(attempt int) (T, error)) (T, error) {
	opts = opts.withDefaults()
	var zero T
	var lastErr error
	delay := opts.BaseDelay

	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		if _, ok := err.(*permanentError); ok {
			return zero, err
		}
		lastErr = err
		if attempt >= opts.Attempts {
			if opts.Notify != nil {
				opts.Notify(attempt, err, 0)
			}
			break
		}

		wait := delay + jitter(opts.Jitter)
		if opts.Notify != nil {
			opts.Notify(attempt, err, wait)
		}
		if err := sleepFn(ctx, wait); err != nil {
			return zero, err
		}
		delay = nextDelay(delay, opts.MaxDelay)
	}
	if lastErr == nil {
		return zero, fmt.Errorf("retry failed without error")
	}
	return zero, lastErr
}

func nextDelay(d, max time.Duration) time.Duration {
	if d >= max/2 {
		return max
	}
	return d * 2
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
