package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces operations by spacing them a fixed interval apart. The
// first call proceeds immediately; each later call is scheduled one interval
// after the previous one, so a burst of callers drains at the configured
// steady rate instead of polling for tokens.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. A non-positive rate is treated as one per minute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimiter{interval: time.Minute / time.Duration(perMinute)}
}

// Wait blocks until the caller's scheduled slot arrives or the context is
// cancelled. Slots are handed out in call order.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	now := time.Now()
	if rl.next.Before(now) {
		rl.next = now
	}
	wait := rl.next.Sub(now)
	rl.next = rl.next.Add(rl.interval)
	rl.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, wait)
}
