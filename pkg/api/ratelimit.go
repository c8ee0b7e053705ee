package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// perKeyLimiter hands out one token-bucket limiter per (tenant, endpoint)
// key, lazily created on first use. Used for the per-(user,endpoint) rate
// limits spec.md §6 documents for the predict and batch-predict routes
// (defaults: 30/min and 10/min respectively).
type perKeyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	burst    int
	every    rate.Limit
}

// newPerKeyLimiter allows up to limit requests per window, per key, as a
// token bucket with burst=limit so a key can spend its whole window's
// budget up front and then refills continuously.
func newPerKeyLimiter(limit int, window time.Duration) *perKeyLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &perKeyLimiter{
		limiters: make(map[string]*rate.Limiter),
		burst:    limit,
		every:    rate.Every(window / time.Duration(limit)),
	}
}

func (p *perKeyLimiter) Allow(key string) bool {
	p.mu.Lock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.every, p.burst)
		p.limiters[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
