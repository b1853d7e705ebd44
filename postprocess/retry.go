package postprocess

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy governs backoff between attempts at a flaky subprocess
// call. Grounded on the teacher's executor.RetryPolicy
// (internal/application/executor/retry.go before this module's
// transform): exponential backoff with a cap and optional jitter,
// repurposed per SPEC_FULL.md's Runner additions — the Runner itself
// never retries a failed montage (spec.md §7 records it as failed and
// moves on), but the subprocess calls this package shells out to for
// NIfTI conversion and T1→MNI are exactly the kind of transient failure
// the teacher's policy was built for.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// NoRetryPolicy disables retries: a single attempt, no backoff.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Multiplier: 1}
}

// DefaultRetryPolicy is a sensible default for subprocess calls: three
// attempts, one second initial delay, doubling up to thirty seconds,
// with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d += d * 0.1 * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs fn up to p.MaxAttempts times, waiting between attempts per the
// backoff policy, and returns the last error if every attempt fails.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d := p.delay(attempt); d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
