package client

import (
	"context"
	"math/rand"
	"time"

	apperrors "sonarboard/internal/errors"
)

// RetryPolicy retries transient failures with exponential backoff plus
// jitter. Errors matching NonRetryable propagate immediately so callers can
// apply deletion/inactivation policy without wasting the retry budget.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	Jitter       float64 // fraction of the delay randomized, 0..1
	NonRetryable func(error) bool
}

// DefaultRetryPolicy returns the policy used for quality API fetches
func DefaultRetryPolicy(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Jitter:      0.25,
		NonRetryable: func(err error) bool {
			return apperrors.IsNotFound(err) || apperrors.IsAuth(err)
		},
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts.
// The last error is returned when the budget is exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.NonRetryable != nil && p.NonRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoff returns the delay before the given attempt (1-based for retries)
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	delay := base << uint(attempt-1)
	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		delay += time.Duration(rand.Float64()*2*spread - spread)
	}
	if delay < 0 {
		delay = base
	}
	return delay
}
