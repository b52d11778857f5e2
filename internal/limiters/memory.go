package limiters

import (
	"context"
	"sync"
	"time"
)

type attemptRecord struct {
	count       int
	lockedUntil time.Time
	expiresAt   time.Time
}

// MemoryLockout is a process-local Tracker. State is not shared between
// instances, so the threshold only holds per process.
type MemoryLockout struct {
	mu      sync.Mutex
	config  LockoutConfig
	records map[string]*attemptRecord
}

// NewMemoryLockout creates an in-memory tracker.
func NewMemoryLockout(cfg LockoutConfig) *MemoryLockout {
	return &MemoryLockout{
		config:  cfg,
		records: make(map[string]*attemptRecord),
	}
}

// Check reports the current state without counting an attempt.
func (m *MemoryLockout) Check(_ context.Context, id string, now time.Time) (Status, error) {
	if !m.config.Enabled || id == "" {
		return Status{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.liveLocked(id, now)
	if rec == nil {
		return Status{}, nil
	}
	if !rec.lockedUntil.IsZero() {
		return Status{State: StateLocked, Failures: rec.count, RetryAfter: rec.lockedUntil.Sub(now)}, nil
	}
	return Status{State: StateWarning, Failures: rec.count}, nil
}

// RecordFailure counts one failed attempt and returns the resulting state.
func (m *MemoryLockout) RecordFailure(_ context.Context, id string, now time.Time) (Status, error) {
	if !m.config.Enabled || id == "" {
		return Status{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.liveLocked(id, now)
	if rec != nil && !rec.lockedUntil.IsZero() {
		return Status{State: StateLocked, Failures: rec.count, RetryAfter: rec.lockedUntil.Sub(now)}, nil
	}
	if rec == nil {
		rec = &attemptRecord{}
		m.records[id] = rec
	}

	rec.count++
	rec.expiresAt = now.Add(m.config.Duration)
	if rec.count >= m.config.Threshold {
		rec.lockedUntil = rec.expiresAt
		return Status{State: StateLocked, Failures: rec.count, RetryAfter: m.config.Duration}, nil
	}
	return Status{State: StateWarning, Failures: rec.count}, nil
}

// Reset clears the failure counter.
func (m *MemoryLockout) Reset(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// LockedCount returns the number of identities whose lock has not yet expired.
func (m *MemoryLockout) LockedCount(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id := range m.records {
		if rec := m.liveLocked(id, now); rec != nil && !rec.lockedUntil.IsZero() {
			n++
		}
	}
	return n, nil
}

// liveLocked returns the record for id, dropping it first if it has expired.
// Caller must hold m.mu.
func (m *MemoryLockout) liveLocked(id string, now time.Time) *attemptRecord {
	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	if !now.Before(rec.expiresAt) {
		delete(m.records, id)
		return nil
	}
	return rec
}
