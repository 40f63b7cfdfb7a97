package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces feed requests with a token bucket. Up to burst requests
// pass immediately; after that one token is earned every 60s/perMinute.
// Waiters reserve their token up front and sleep exactly until it is due.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	burst    float64
	tokens   float64
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing perMinute requests per
// minute with bursts of up to burst. Values below 1 are raised to 1.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	perMinute = max(perMinute, 1)
	burst = max(burst, 1)
	rl := &RateLimiter{
		interval: time.Minute / time.Duration(perMinute),
		burst:    float64(burst),
		tokens:   float64(burst),
		now:      time.Now,
	}
	rl.last = rl.now()
	return rl
}

// reserve takes a token and returns how long until it becomes valid.
// The balance goes negative while callers are queued.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.burst, rl.tokens+float64(now.Sub(rl.last))/float64(rl.interval))
	rl.last = now
	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens * float64(rl.interval))
}

// release returns a reserved token that was never used.
func (rl *RateLimiter) release() {
	rl.mu.Lock()
	rl.tokens = min(rl.burst, rl.tokens+1)
	rl.mu.Unlock()
}

// Wait blocks until a token is available or ctx is done. A cancelled
// waiter gives its reservation back.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	delay := rl.reserve()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		rl.release()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
