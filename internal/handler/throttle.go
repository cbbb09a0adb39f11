package handler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttler admits or refuses one request for key.
type Throttler interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalThrottle keeps one token bucket per key in process memory. It is used
// when no shared Redis is configured.
type LocalThrottle struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
}

func NewLocalThrottle(perMinute, burst int) *LocalThrottle {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &LocalThrottle{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
}

func (t *LocalThrottle) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastGC) > t.idleTTL {
		for k, e := range t.limiters {
			if now.Sub(e.lastSeen) > t.idleTTL {
				delete(t.limiters, k)
			}
		}
		t.lastGC = now
	}

	e, ok := t.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

func (t *LocalThrottle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
