package client

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum spacing between outbound API calls
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// spacingLimiter implements RateLimiter with a fixed minimum delay.
// Callers block until the next eligible slot; blocking is confined to the
// calling goroutine.
type spacingLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	lastCall time.Time
}

// NewRateLimiter creates a rate limiter with the given minimum spacing
func NewRateLimiter(minDelay time.Duration) RateLimiter {
	if minDelay <= 0 {
		minDelay = 100 * time.Millisecond
	}
	return &spacingLimiter{minDelay: minDelay}
}

// Wait waits until it's safe to make another API call
func (r *spacingLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		elapsed := time.Since(r.lastCall)
		if elapsed >= r.minDelay {
			break
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			r.mu.Lock()
			return ctx.Err()
		case <-time.After(r.minDelay - elapsed):
			r.mu.Lock()
		}
		// Another waiter may have claimed the slot while we slept;
		// recheck against the updated lastCall before proceeding.
	}

	r.lastCall = time.Now()
	return nil
}
