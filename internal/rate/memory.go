package rate

import (
	"context"
	"sync"
	"time"
)

const memorySweepEvery = 1024

// MemoryLimiter applies the sliding-window algorithm to process-local state.
type MemoryLimiter struct {
	mu     sync.Mutex
	config Config
	hits   map[string][]time.Time
	calls  int
}

// NewMemory creates an in-memory limiter.
func NewMemory(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		config: cfg,
		hits:   make(map[string][]time.Time),
	}
}

// Admit records one request for key under class and decides whether it is admitted.
func (m *MemoryLimiter) Admit(_ context.Context, class Class, key string, now time.Time) (Decision, error) {
	p, ok := m.config.policy(class)
	if !ok || key == "" {
		return Decision{Allowed: true}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%memorySweepEvery == 0 {
		m.sweepLocked(now)
	}

	k := windowKey(class, key)
	cutoff := now.Add(-p.Window)
	log := m.hits[k]
	kept := log[:0]
	for _, ts := range log {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	m.hits[k] = kept

	if len(kept) <= p.Limit {
		return Decision{Allowed: true, Remaining: p.Limit - len(kept)}, nil
	}
	retry := kept[len(kept)-p.Limit].Add(p.Window).Sub(now)
	return Decision{RetryAfter: clampRetry(retry, p.Window)}, nil
}

// Reset drops the window for key under class.
func (m *MemoryLimiter) Reset(_ context.Context, class Class, key string) error {
	m.mu.Lock()
	delete(m.hits, windowKey(class, key))
	m.mu.Unlock()
	return nil
}

// sweepLocked drops keys whose newest entry is older than the longest window.
func (m *MemoryLimiter) sweepLocked(now time.Time) {
	var longest time.Duration
	for _, p := range m.config.Policies {
		if p.Window > longest {
			longest = p.Window
		}
	}
	cutoff := now.Add(-longest)
	for k, log := range m.hits {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(m.hits, k)
		}
	}
}
