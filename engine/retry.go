package engine

import (
	"context"
	"time"
)

// retryPolicy implements the exponential backoff used to retry the
// inventory-promotion step of storeNewVersion/commitMutableHead (spec
// §4.7 step 6, §5): starting delay 10ms, growing by a factor of 1.5 each
// attempt, capped at 200ms, up to 10 attempts total. This is deliberately
// small and self-contained rather than built on a general-purpose
// scheduling library: the numbers are fixed, not a tunable policy a
// library would parameterize, and no dependency in this module's stack
// offers a bespoke 10ms/200ms/1.5x/10-attempt sequence out of the box.
type retryPolicy struct {
	initial    time.Duration
	max        time.Duration
	factor     float64
	maxAttempt int
}

var defaultRetryPolicy = retryPolicy{
	initial:    10 * time.Millisecond,
	max:        200 * time.Millisecond,
	factor:     1.5,
	maxAttempt: 10,
}

// delay returns the backoff delay before attempt n (1-indexed: the delay
// before the 2nd attempt is n=1, etc). Attempt 0 has no delay.
func (p retryPolicy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(p.initial)
	for i := 1; i < attempt; i++ {
		d *= p.factor
	}
	if d > float64(p.max) {
		return p.max
	}
	return time.Duration(d)
}

// retry calls fn up to p.maxAttempt times, sleeping p.delay(attempt)
// between attempts, stopping as soon as fn returns a nil error or ctx is
// canceled. It returns the last error seen.
func (p retryPolicy) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.maxAttempt; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
