// Package ratelimit bounds how often a caller may try room codes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"relayhub/internal/clock"
)

// Limiter tracks attempts per key in fixed windows. The first attempt after a
// window has elapsed opens a new window.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	period  time.Duration
	clock   clock.Clock
}

type window struct {
	count int
	start time.Time
}

// NewLimiter allows limit attempts per key every period.
func NewLimiter(limit int, period time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		clients: make(map[string]*window),
		limit:   limit,
		period:  period,
		clock:   clk,
	}
}

func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	return l.allow(normalizeKey(key)), nil
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, exists := l.clients[key]
	if !exists || now.Sub(w.start) >= l.period {
		l.clients[key] = &window{count: 1, start: now}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Prune removes keys whose window started more than two periods ago.
func (l *Limiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.period {
			delete(l.clients, key)
		}
	}
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func normalizeKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if len(key) > 120 {
		return key[:120]
	}
	return key
}
