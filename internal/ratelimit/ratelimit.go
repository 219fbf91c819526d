// Package ratelimit provides a keyed token-bucket rate limiter for inbound requests.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long a key may stay unused before its bucket is dropped.
const DefaultIdleTTL = 30 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages per-key rate limiting.
// Each unique key (a client IP in practice) gets its own bucket.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a KeyedRateLimiter.
type Option func(*KeyedRateLimiter)

// WithIdleTTL overrides DefaultIdleTTL.
func WithIdleTTL(d time.Duration) Option {
	return func(k *KeyedRateLimiter) { k.idleTTL = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(k *KeyedRateLimiter) { k.now = now }
}

// New creates a keyed rate limiter allowing burst requests per window,
// refilled evenly across the window. A sweeper goroutine evicts idle keys
// until Stop is called.
func New(burst int, window time.Duration, opts ...Option) *KeyedRateLimiter {
	krl := &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(window / time.Duration(max(burst, 1))),
		burst:    burst,
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(krl)
	}

	go krl.sweep()

	return krl
}

// Allow reports whether a request for key may proceed. It never blocks.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	now := krl.now()

	krl.mu.Lock()
	e, ok := krl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = e
	}
	e.lastSeen = now
	krl.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// RetryAfter estimates how long key must wait for its next token.
func (krl *KeyedRateLimiter) RetryAfter(key string) time.Duration {
	krl.mu.Lock()
	e, ok := krl.limiters[key]
	krl.mu.Unlock()
	if !ok {
		return 0
	}

	now := krl.now()
	r := e.limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

// Len returns the number of tracked keys.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.limiters)
}

// Evict drops every bucket idle for longer than the idle TTL and returns how many went.
func (krl *KeyedRateLimiter) Evict() int {
	cutoff := krl.now().Add(-krl.idleTTL)

	krl.mu.Lock()
	defer krl.mu.Unlock()

	removed := 0
	for key, e := range krl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(krl.limiters, key)
			removed++
		}
	}
	return removed
}

// Stop shuts down the sweeper goroutine.
func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() {
		close(krl.done)
	})
}

func (krl *KeyedRateLimiter) sweep() {
	ticker := time.NewTicker(max(krl.idleTTL/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-krl.done:
			return
		case <-ticker.C:
			krl.Evict()
		}
	}
}
