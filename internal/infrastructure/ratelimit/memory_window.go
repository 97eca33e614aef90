package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowLimiter is the single-instance fallback used when Redis
// is disabled: same sliding-window semantics, process-local state.
type MemoryWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	arrived map[string][]time.Time
}

func NewMemoryWindowLimiter(limit int, window time.Duration) *MemoryWindowLimiter {
	return &MemoryWindowLimiter{
		limit:   limit,
		window:  window,
		arrived: make(map[string][]time.Time),
	}
}

func (l *MemoryWindowLimiter) Allow(_ context.Context, addr string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	kept := l.arrived[addr][:0]
	for _, ts := range l.arrived[addr] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.arrived[addr] = kept
		return false, nil
	}

	l.arrived[addr] = append(kept, now)
	return true, nil
}
