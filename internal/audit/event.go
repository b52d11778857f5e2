package audit

import (
	"context"
	"iter"
	"slices"
	"time"
)

// Category classifies a security event.
type Category string

const (
	CategoryAuthSuccess    Category = "auth_success"
	CategoryAuthFailure    Category = "auth_failure"
	CategoryLockout        Category = "lockout"
	CategoryTokenRefresh   Category = "token_refresh"
	CategoryTokenRevoked   Category = "token_revoked"
	CategoryRateLimited    Category = "rate_limited"
	CategoryRegistration   Category = "registration"
	CategoryPasswordChange Category = "password_change"
	CategoryLogout         Category = "logout"
	CategoryTokenCleanup   Category = "token_cleanup"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryAuthSuccess,
		CategoryAuthFailure,
		CategoryLockout,
		CategoryTokenRefresh,
		CategoryTokenRevoked,
		CategoryRateLimited,
		CategoryRegistration,
		CategoryPasswordChange,
		CategoryLogout,
		CategoryTokenCleanup,
	}
}

// Severity is an ordered event level.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Severities lists every severity from lowest to highest.
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
}

// Event is an immutable security audit record.
type Event struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Category   Category          `json:"category"`
	Severity   Severity          `json:"severity"`
	UserID     string            `json:"user_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	SourceIP   string            `json:"source_ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Code       string            `json:"code,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Filter selects events for Query. Zero fields do not constrain.
// Severity is a minimum level. Until is exclusive; with UntilSeq set, events
// at exactly Until are kept when their Seq is below UntilSeq, so the
// Timestamp and Seq of the last event of one page resume the next page
// without skipping ties.
type Filter struct {
	Since      time.Time
	Until      time.Time
	UntilSeq   uint64
	Categories []Category
	Severity   Severity
	UserID     string
	Limit      int
}

// Normalized returns f with Limit defaulted and capped.
func (f Filter) Normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		f.Limit = MaxQueryLimit
	}
	return f
}

// Match reports whether e satisfies every constraint of f except Limit.
func (f Filter) Match(e Event) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		if f.UntilSeq == 0 || !e.Timestamp.Equal(f.Until) || e.Seq >= f.UntilSeq {
			return false
		}
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, e.Category) {
		return false
	}
	if f.Severity != "" && e.Severity.Rank() < f.Severity.Rank() {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	return true
}

// After returns a filter that resumes f after e in newest-first order.
func (f Filter) After(e Event) Filter {
	f.Until = e.Timestamp
	f.UntilSeq = e.Seq
	return f
}

// Newer reports whether a sorts before b in newest-first order.
func Newer(a, b Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Seq > b.Seq
}

// Sink receives dispatched events. Errors are reported to the dispatcher,
// which logs them; they never reach the request that produced the event.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Store is a Sink that can be queried. Query yields newest-first, at most
// Filter.Limit events, and stops at the first error.
type Store interface {
	Sink
	Query(ctx context.Context, filter Filter) iter.Seq2[Event, error]
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error { return f(ctx, event) }

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) error { return nil }

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}
