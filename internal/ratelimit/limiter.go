// Package ratelimit provides per-client request throttling. The limiter is
// injected behind an interface so the pipeline stays decoupled from storage
// topology: in-memory counters for a single instance, redis for a cluster.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limit configures a throttling window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of one Allow call. ResetAt tells a denied client
// when the window reopens.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a keyed client may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (Decision, error)
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps per-key window counters in process memory. The
// read-check-increment runs under one lock so concurrent requests never
// undercount.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowCounter
	now     func() time.Time
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*windowCounter),
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

var _ Limiter = (*MemoryLimiter)(nil)

// Allow counts a request against the key's current window.
func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &windowCounter{resetAt: now.Add(limit.Window)}
		l.windows[key] = w
	}
	if w.count >= limit.Requests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}
	w.count++
	return Decision{
		Allowed:   true,
		Remaining: limit.Requests - w.count,
		ResetAt:   w.resetAt,
	}, nil
}

// Reclaim drops counters whose window has passed, bounding memory. Run
// periodically; the janitor started by Run does this automatically.
func (l *MemoryLimiter) Reclaim() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed int
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run reclaims expired windows on the given interval until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Reclaim()
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
