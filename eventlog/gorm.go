package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"gorm.io/gorm"
)

const gormPageSize = 100

type eventRow struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Seq          uint64    `gorm:"not null"`
	Timestamp    time.Time `gorm:"column:occurred_at;index;not null"`
	Category     string    `gorm:"size:32;index;not null"`
	Severity     string    `gorm:"size:16;not null"`
	SeverityRank int       `gorm:"not null"`
	UserID       string    `gorm:"size:191;index"`
	Identifier   string    `gorm:"size:191"`
	SourceIP     string    `gorm:"size:64"`
	UserAgent    string    `gorm:"size:512"`
	Success      bool      `gorm:"not null"`
	Code         string    `gorm:"size:64"`
	Detail       string    `gorm:"type:text"`
}

func (eventRow) TableName() string { return "security_events" }

func rowFromEvent(e audit.Event) (eventRow, error) {
	row := eventRow{
		ID:           e.ID,
		Seq:          e.Seq,
		Timestamp:    e.Timestamp.UTC(),
		Category:     string(e.Category),
		Severity:     string(e.Severity),
		SeverityRank: e.Severity.Rank(),
		UserID:       e.UserID,
		Identifier:   e.Identifier,
		SourceIP:     e.SourceIP,
		UserAgent:    e.UserAgent,
		Success:      e.Success,
		Code:         e.Code,
	}
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return eventRow{}, err
		}
		row.Detail = string(raw)
	}
	return row, nil
}

func (r eventRow) event() audit.Event {
	e := audit.Event{
		ID:         r.ID,
		Seq:        r.Seq,
		Timestamp:  r.Timestamp,
		Category:   audit.Category(r.Category),
		Severity:   audit.Severity(r.Severity),
		UserID:     r.UserID,
		Identifier: r.Identifier,
		SourceIP:   r.SourceIP,
		UserAgent:  r.UserAgent,
		Success:    r.Success,
		Code:       r.Code,
	}
	if r.Detail != "" {
		_ = json.Unmarshal([]byte(r.Detail), &e.Detail)
	}
	return e
}

// GormStore persists events in the security_events table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the security_events table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&eventRow{})
}

func (s *GormStore) Emit(ctx context.Context, event audit.Event) error {
	row, err := rowFromEvent(event)
	if err != nil {
		return fmt.Errorf("gorm event store: encode detail: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("gorm event store: %w", err)
	}
	return nil
}

// Query reads keyset pages on demand; a page is fetched only when the
// consumer has drained the previous one.
func (s *GormStore) Query(ctx context.Context, filter audit.Filter) iter.Seq2[audit.Event, error] {
	filter = filter.Normalized()
	return func(yield func(audit.Event, error) bool) {
		remaining := filter.Limit
		var last *eventRow

		for remaining > 0 {
			var rows []eventRow
			q := s.scoped(ctx, filter)
			if last != nil {
				q = q.Where("(occurred_at < ? OR (occurred_at = ? AND seq < ?))", last.Timestamp, last.Timestamp, last.Seq)
			}
			err := q.Order("occurred_at DESC").Order("seq DESC").
				Limit(min(remaining, gormPageSize)).
				Find(&rows).Error
			if err != nil {
				yield(audit.Event{}, fmt.Errorf("gorm event store: %w", err))
				return
			}

			for i := range rows {
				if !yield(rows[i].event(), nil) {
					return
				}
			}
			remaining -= len(rows)
			if len(rows) < gormPageSize {
				return
			}
			last = &rows[len(rows)-1]
		}
	}
}

func (s *GormStore) scoped(ctx context.Context, f audit.Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&eventRow{})
	if !f.Since.IsZero() {
		q = q.Where("occurred_at >= ?", f.Since.UTC())
	}
	switch {
	case f.Until.IsZero():
	case f.UntilSeq > 0:
		until := f.Until.UTC()
		q = q.Where("(occurred_at < ? OR (occurred_at = ? AND seq < ?))", until, until, f.UntilSeq)
	default:
		q = q.Where("occurred_at < ?", f.Until.UTC())
	}
	if len(f.Categories) > 0 {
		cats := make([]string, len(f.Categories))
		for i, c := range f.Categories {
			cats[i] = string(c)
		}
		q = q.Where("category IN ?", cats)
	}
	if f.Severity != "" {
		q = q.Where("severity_rank >= ?", f.Severity.Rank())
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	return q
}
