package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type refreshRow struct {
	ID          string    `gorm:"primaryKey;size:32"`
	FamilyID    string    `gorm:"size:64;index;not null"`
	UserID      string    `gorm:"size:191;index;not null"`
	SecretHash  string    `gorm:"size:64;not null"`
	IssuedAt    time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"index;not null"`
	Revoked     bool      `gorm:"not null;default:false"`
	SuccessorID string    `gorm:"size:32"`
	IP          string    `gorm:"size:64"`
	UserAgent   string    `gorm:"size:512"`
	LastUsedAt  time.Time
}

func (refreshRow) TableName() string { return "refresh_tokens" }

func (row refreshRow) record() Record {
	return Record{
		ID:          row.ID,
		FamilyID:    row.FamilyID,
		UserID:      row.UserID,
		IssuedAt:    row.IssuedAt,
		ExpiresAt:   row.ExpiresAt,
		Revoked:     row.Revoked,
		SuccessorID: row.SuccessorID,
		IP:          row.IP,
		UserAgent:   row.UserAgent,
		LastUsedAt:  row.LastUsedAt,
	}
}

// GormRegistry stores refresh tokens in a SQL table through gorm.
// Rotation runs inside a transaction with a row lock and a conditional
// revoke, so two concurrent rotations of the same record cannot both succeed.
type GormRegistry struct {
	db *gorm.DB
}

// NewGormRegistry returns a registry using db. Call Migrate before first use.
func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db}
}

// Migrate creates or updates the refresh_tokens table.
func (g *GormRegistry) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&refreshRow{})
}

func (g *GormRegistry) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	if err := validateIssue(req); err != nil {
		return Issued{}, err
	}

	id, s, token, err := newCredential()
	if err != nil {
		return Issued{}, err
	}
	now := req.Now.UTC()
	row := refreshRow{
		ID:         id,
		FamilyID:   uuid.NewString(),
		UserID:     req.UserID,
		SecretHash: s.hashHex(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(req.TTL),
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		LastUsedAt: now,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Issued{Token: token, Record: row.record()}, nil
}

func (g *GormRegistry) Rotate(ctx context.Context, presented string, req RotateRequest) (RotateResult, error) {
	id, s, err := decodeToken(presented)
	if err != nil {
		return RotateResult{Outcome: OutcomeInvalid}, nil
	}
	if req.TTL <= 0 {
		return RotateResult{}, errors.New("refresh: ttl must be > 0")
	}

	nextID, nextSecret, nextToken, err := newCredential()
	if err != nil {
		return RotateResult{}, err
	}
	now := req.Now.UTC()

	var result RotateResult
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row refreshRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = RotateResult{Outcome: OutcomeInvalid}
			return nil
		}
		if err != nil {
			return err
		}
		if !hashMatches(row.SecretHash, s) {
			result = RotateResult{Outcome: OutcomeInvalid}
			return nil
		}

		prev := Record{ID: row.ID, FamilyID: row.FamilyID, UserID: row.UserID}
		closeFamily := func(outcome Outcome) error {
			n, err := revokeFamilyTx(tx, row.FamilyID)
			if err != nil {
				return err
			}
			result = RotateResult{Outcome: outcome, Previous: prev, Revoked: n}
			return nil
		}

		if row.Revoked {
			return closeFamily(OutcomeReused)
		}
		if !now.Before(row.ExpiresAt) {
			return closeFamily(OutcomeExpired)
		}

		upd := tx.Model(&refreshRow{}).
			Where("id = ? AND revoked = ?", row.ID, false).
			Updates(map[string]any{"revoked": true, "successor_id": nextID, "last_used_at": now})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			// Lost a race with another rotation of the same record.
			return closeFamily(OutcomeReused)
		}

		next := refreshRow{
			ID:         nextID,
			FamilyID:   row.FamilyID,
			UserID:     row.UserID,
			SecretHash: nextSecret.hashHex(),
			IssuedAt:   now,
			ExpiresAt:  now.Add(req.TTL),
			IP:         req.IP,
			UserAgent:  req.UserAgent,
			LastUsedAt: now,
		}
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		result = RotateResult{Outcome: OutcomeRotated, Token: nextToken, Record: next.record(), Previous: prev}
		return nil
	})
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return result, nil
}

func (g *GormRegistry) Lookup(ctx context.Context, presented string) (Record, error) {
	id, s, err := decodeToken(presented)
	if err != nil {
		return Record{}, ErrMalformedToken
	}

	var row refreshRow
	err = g.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !hashMatches(row.SecretHash, s) {
		return Record{}, ErrNotFound
	}
	return row.record(), nil
}

func (g *GormRegistry) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, nil
	}
	n, err := revokeFamilyTx(g.db.WithContext(ctx), familyID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (g *GormRegistry) RevokeUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	res := g.db.WithContext(ctx).Model(&refreshRow{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (g *GormRegistry) ListActive(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	var rows []refreshRow
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now.UTC()).
		Order("issued_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (g *GormRegistry) Sweep(ctx context.Context, cutoff time.Time, batch int) (int, error) {
	if batch <= 0 {
		return 0, nil
	}

	var ids []string
	db := g.db.WithContext(ctx)
	err := db.Model(&refreshRow{}).
		Where("expires_at <= ?", cutoff.UTC()).
		Order("expires_at").
		Limit(batch).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := db.Where("id IN ?", ids).Delete(&refreshRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Ping checks backend reachability.
func (g *GormRegistry) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func revokeFamilyTx(tx *gorm.DB, familyID string) (int, error) {
	res := tx.Model(&refreshRow{}).
		Where("family_id = ? AND revoked = ?", familyID, false).
		Update("revoked", true)
	return int(res.RowsAffected), res.Error
}
