package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
	// ErrNotFound is returned by Lookup for unknown ids or secret mismatches.
	ErrNotFound = errors.New("refresh token not found")
)

// Outcome is the tagged result of a rotation attempt.
type Outcome int

const (
	OutcomeRotated Outcome = iota
	OutcomeReused
	OutcomeExpired
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRotated:
		return "rotated"
	case OutcomeReused:
		return "reused"
	case OutcomeExpired:
		return "expired"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Record is the stored state of one refresh token.
type Record struct {
	ID          string
	FamilyID    string
	UserID      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	SuccessorID string
	IP          string
	UserAgent   string
	LastUsedAt  time.Time
}

// Active reports whether the record can still be rotated at now.
func (r Record) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// IssueRequest starts a new family for UserID.
type IssueRequest struct {
	UserID    string
	IP        string
	UserAgent string
	Now       time.Time
	TTL       time.Duration
}

// RotateRequest carries the request context of a rotation.
type RotateRequest struct {
	IP        string
	UserAgent string
	Now       time.Time
	TTL       time.Duration
}

// Issued is a freshly minted token and its record.
type Issued struct {
	Token  string
	Record Record
}

// RotateResult is the outcome of Rotate. Token and Record are set only for
// OutcomeRotated. Previous carries family and user of the presented record
// whenever it was found, and Revoked counts records closed by family revocation.
type RotateResult struct {
	Outcome  Outcome
	Token    string
	Record   Record
	Previous Record
	Revoked  int
}

// Registry is implemented by every refresh token backend.
type Registry interface {
	Issue(ctx context.Context, req IssueRequest) (Issued, error)
	Rotate(ctx context.Context, presented string, req RotateRequest) (RotateResult, error)
	Lookup(ctx context.Context, presented string) (Record, error)
	RevokeFamily(ctx context.Context, familyID string) (int, error)
	RevokeUser(ctx context.Context, userID string) (int, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]Record, error)
	Sweep(ctx context.Context, cutoff time.Time, batch int) (int, error)
}

func validateIssue(req IssueRequest) error {
	if req.UserID == "" {
		return errors.New("refresh: user id required")
	}
	if req.TTL <= 0 {
		return errors.New("refresh: ttl must be > 0")
	}
	return nil
}
