package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter enforces per-second client budgets in process memory.
// It is the backend for single-replica deployments and the fallback
// while Redis is unreachable. Budgets for all keys share one window,
// so the map empties itself every second instead of growing with the
// number of distinct clients.
type MemoryLimiter struct {
	mu     sync.Mutex
	second int64          // Unix second currently being counted.
	spent  map[string]int // Requests consumed per key within that second.
}

// NewMemoryLimiter constructs an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{spent: make(map[string]int)}
}

// Allow consumes one slot of the key's budget for the second containing
// now. A non-positive limit or an empty key disables limiting.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.second != sec {
		l.second = sec
		l.spent = make(map[string]int)
	}
	used := l.spent[key]
	if used >= limit {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	l.spent[key] = used + 1
	return Result{Allowed: true, Remaining: limit - used - 1, Reset: reset}, nil
}
