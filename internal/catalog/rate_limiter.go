package catalog

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls evenly at requestsPerSecond.
type RateLimiter struct {
	mu            sync.Mutex
	nextAllowedAt time.Time
	interval      time.Duration
}

func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &RateLimiter{interval: time.Second / time.Duration(requestsPerSecond)}
}

// WaitTurn reserves the next slot and blocks until it starts or ctx ends.
// A cancelled wait keeps its reservation.
func (r *RateLimiter) WaitTurn(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	scheduled := now
	if r.nextAllowedAt.After(now) {
		scheduled = r.nextAllowedAt
	}
	r.nextAllowedAt = scheduled.Add(r.interval)
	r.mu.Unlock()

	if wait := time.Until(scheduled); wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return ctx.Err()
}
