package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type userRow struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Identifier   string    `gorm:"size:320;uniqueIndex;not null"`
	PasswordHash string    `gorm:"size:100;not null"`
	Role         string    `gorm:"size:32;not null"`
	Status       int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

func (r userRow) record() authcore.UserRecord {
	return authcore.UserRecord{
		UserID:       r.ID,
		Identifier:   r.Identifier,
		PasswordHash: r.PasswordHash,
		Role:         authcore.Role(r.Role),
		Status:       authcore.AccountStatus(r.Status),
		CreatedAt:    r.CreatedAt,
	}
}

var (
	_ authcore.UserProvider        = (*UserStore)(nil)
	_ authcore.AccountStatusSetter = (*UserStore)(nil)
)

// UserStore is a gorm-backed authcore.UserProvider.
type UserStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

// Migrate creates or updates the users table.
func (s *UserStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userRow{})
}

func (s *UserStore) GetUserByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("identifier = ?", identifier).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("get user by identifier: %w", err)
	}
	return row.record(), nil
}

func (s *UserStore) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("get user by id: %w", err)
	}
	return row.record(), nil
}

// CreateUser inserts a user with a UUIDv7 id. A taken identifier returns
// authcore.ErrProviderDuplicateIdentifier, including when a concurrent
// insert wins the unique index.
func (s *UserStore) CreateUser(ctx context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return authcore.UserRecord{}, err
	}
	now := s.now().UTC()
	row := userRow{
		ID:           id.String(),
		Identifier:   input.Identifier,
		PasswordHash: input.PasswordHash,
		Role:         string(input.Role),
		Status:       int(input.Status),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRow{}).Where("identifier = ?", input.Identifier).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return authcore.ErrProviderDuplicateIdentifier
		}
		return tx.Create(&row).Error
	})
	switch {
	case err == nil:
		return row.record(), nil
	case errors.Is(err, authcore.ErrProviderDuplicateIdentifier):
		return authcore.UserRecord{}, err
	}

	// Lost a race on the unique index.
	if _, lookupErr := s.GetUserByIdentifier(ctx, input.Identifier); lookupErr == nil {
		return authcore.UserRecord{}, authcore.ErrProviderDuplicateIdentifier
	}
	return authcore.UserRecord{}, fmt.Errorf("create user: %w", err)
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	tx := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Updates(map[string]any{
		"password_hash": newHash,
		"updated_at":    s.now().UTC(),
	})
	if tx.Error != nil {
		return fmt.Errorf("update password hash: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

// SetStatus enables or disables an account for Engine.DisableAccount and
// Engine.EnableAccount.
func (s *UserStore) SetStatus(ctx context.Context, userID string, status authcore.AccountStatus) error {
	tx := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Updates(map[string]any{
		"status":     int(status),
		"updated_at": s.now().UTC(),
	})
	if tx.Error != nil {
		return fmt.Errorf("set user status: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

// SetRole changes the role of an account. The cmd server uses it to
// provision the bootstrap administrator.
func (s *UserStore) SetRole(ctx context.Context, userID string, role authcore.Role) error {
	if !role.Valid() {
		return fmt.Errorf("set user role: invalid role %q", role)
	}
	tx := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Updates(map[string]any{
		"role":       string(role),
		"updated_at": s.now().UTC(),
	})
	if tx.Error != nil {
		return fmt.Errorf("set user role: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}
