// Package ratelimit provides the per-vendor token-bucket that serializes
// outbound admission so the aggregate issue rate never exceeds a vendor's cap.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket configured with maxRequests per window. Acquire
// blocks cooperatively until a token is available; concurrent callers are
// serialized so at steady state the issue rate stays at or below the cap.
//
// The limiter is process-local. Horizontal scaling multiplies the effective
// rate by the replica count; deploy accordingly.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration // refill interval = window / maxRequests
	tokens   float64
	max      float64
	last     time.Time
}

// New creates a limiter admitting maxRequests per window.
func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		interval: window / time.Duration(maxRequests),
		tokens:   float64(maxRequests),
		max:      float64(maxRequests),
		last:     time.Now(),
	}
}

// refill credits tokens accrued since the last call. Caller holds mu.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last)
	if elapsed <= 0 {
		return
	}
	l.tokens += float64(elapsed) / float64(l.interval)
	if l.tokens > l.max {
		l.tokens = l.max
	}
	l.last = now
}

// Acquire consumes one token, blocking until one is available or the context
// is cancelled. The wait is a timer sleep, never a spin.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.refill(now)
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		// Time until the next whole token accrues.
		deficit := 1 - l.tokens
		wait := time.Duration(deficit * float64(l.interval))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Registry holds one limiter per vendor, initialized at process start and
// read-only thereafter.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register installs a limiter for the named vendor.
func (r *Registry) Register(vendor string, maxRequests int, window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[vendor] = New(maxRequests, window)
}

// Get returns the limiter for the named vendor, or nil if none is registered.
func (r *Registry) Get(vendor string) *Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[vendor]
}
