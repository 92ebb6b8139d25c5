package intake

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by user id.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window and
// starts evicting idle keys until ctx is done. A limit <= 0 allows everything.
func NewRateLimiter(ctx context.Context, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
	if limit > 0 && window > 0 {
		go rl.evict(ctx)
	}
	return rl
}

// Allow records a request for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := fresh(r.requests[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

func (r *RateLimiter) evict(ctx context.Context) {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		cutoff := r.now().Add(-r.window)
		for key, times := range r.requests {
			if f := fresh(times, cutoff); len(f) == 0 {
				delete(r.requests, key)
			} else {
				r.requests[key] = f
			}
		}
		r.mu.Unlock()
	}
}

func fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
