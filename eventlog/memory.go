package eventlog

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/MrEthical07/authcore/internal/audit"
)

// MemoryStore keeps the most recent events in a bounded ring.
type MemoryStore struct {
	mu     sync.RWMutex
	ring   []audit.Event
	next   int
	filled bool
}

// NewMemoryStore returns a store holding at most capacity events.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{ring: make([]audit.Event, capacity)}
}

func (m *MemoryStore) Emit(_ context.Context, event audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = event
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.filled = true
	}
	return nil
}

// Len returns the number of retained events.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.filled {
		return len(m.ring)
	}
	return m.next
}

// Query matches against a snapshot taken when iteration starts.
func (m *MemoryStore) Query(ctx context.Context, filter audit.Filter) iter.Seq2[audit.Event, error] {
	filter = filter.Normalized()
	return func(yield func(audit.Event, error) bool) {
		matched := m.matching(filter)
		slices.SortFunc(matched, func(a, b audit.Event) int {
			switch {
			case audit.Newer(a, b):
				return -1
			case audit.Newer(b, a):
				return 1
			default:
				return 0
			}
		})

		for i, e := range matched {
			if i >= filter.Limit {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(audit.Event{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *MemoryStore) matching(filter audit.Filter) []audit.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.filled {
		n = len(m.ring)
	}
	out := make([]audit.Event, 0, min(n, filter.Limit))
	for i := 0; i < n; i++ {
		if e := m.ring[i]; filter.Match(e) {
			out = append(out, e)
		}
	}
	return out
}
