// Package ratelimit implements a per-client fixed-window request limiter.
package ratelimit

import (
	"sync"
	"time"

	"llmgate/internal/metrics"
)

// Limiter counts requests per identifier in fixed windows.
// It satisfies echo's middleware.RateLimiterStore.
type Limiter struct {
	limit      int
	window     time.Duration
	maxClients int
	now        func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter admitting limit requests per window for at most maxClients identifiers.
func New(limit int, window time.Duration, maxClients int, opts ...Option) *Limiter {
	l := &Limiter{
		limit:      limit,
		window:     window,
		maxClients: maxClients,
		now:        time.Now,
		counters:   make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request for identifier and reports whether it is within the limit.
// A non-positive limit admits everything.
func (l *Limiter) Allow(identifier string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[identifier]
	if !ok || now.Sub(c.windowAt) >= l.window {
		if !ok {
			l.makeRoom(now)
		}
		l.counters[identifier] = &counter{count: 1, windowAt: now}
		return true, nil
	}

	if c.count >= l.limit {
		metrics.RateLimitRejectedTotal.Inc()
		return false, nil
	}
	c.count++
	return true, nil
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// makeRoom drops expired windows once the map is full, then the oldest window if still full.
func (l *Limiter) makeRoom(now time.Time) {
	if l.maxClients <= 0 || len(l.counters) < l.maxClients {
		return
	}

	for id, c := range l.counters {
		if now.Sub(c.windowAt) >= l.window {
			delete(l.counters, id)
		}
	}
	if len(l.counters) < l.maxClients {
		return
	}

	var oldestID string
	var oldest time.Time
	for id, c := range l.counters {
		if oldestID == "" || c.windowAt.Before(oldest) {
			oldestID, oldest = id, c.windowAt
		}
	}
	delete(l.counters, oldestID)
}
