package authcore

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	aliceSecret = "Correct-Horse-42!"
	bobSecret   = "Battery-Staple-7?"
)

type mockUserProvider struct {
	mu           sync.Mutex
	users        map[string]UserRecord
	byIdentifier map[string]string

	getErr    error
	createErr error
	updateErr error

	updatePasswordCalls int
	identifierLookups   int
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users:        make(map[string]UserRecord),
		byIdentifier: make(map[string]string),
	}
}

func (m *mockUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identifierLookups++
	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	id, ok := m.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserProvider) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return UserRecord{}, m.createErr
	}
	if _, ok := m.byIdentifier[input.Identifier]; ok {
		return UserRecord{}, ErrProviderDuplicateIdentifier
	}
	user := UserRecord{
		UserID:       fmt.Sprintf("u%d", len(m.users)+1),
		Identifier:   input.Identifier,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Status:       input.Status,
		CreatedAt:    time.Now(),
	}
	m.users[user.UserID] = user
	m.byIdentifier[user.Identifier] = user.UserID
	return user, nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = newHash
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) add(t *testing.T, id, identifier, secret string, role Role, status AccountStatus) UserRecord {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	user := UserRecord{
		UserID:       id,
		Identifier:   identifier,
		PasswordHash: string(hash),
		Role:         role,
		Status:       status,
	}
	m.users[id] = user
	m.byIdentifier[identifier] = id
	return user
}

func (m *mockUserProvider) SetStatus(_ context.Context, userID string, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Status = status
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) setStatus(userID string, status AccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.users[userID]
	user.Status = status
	m.users[userID] = user
}

func (m *mockUserProvider) lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identifierLookups
}

func (m *mockUserProvider) hash(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].PasswordHash
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEngine struct {
	*Engine
	users *mockUserProvider
	clock *fakeClock
	mr    *miniredis.Miniredis
	rdb   *redis.Client
}

// newTestEngine builds an Engine on miniredis with alice (ordinary), bob
// (disabled) and root (privileged) provisioned.
func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := TestConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	users := newMockUserProvider()
	users.add(t, "u-alice", "alice", aliceSecret, RoleOrdinary, AccountActive)
	users.add(t, "u-bob", "bob", bobSecret, RoleOrdinary, AccountDisabled)
	users.add(t, "u-root", "root", aliceSecret, RolePrivileged, AccountActive)

	clock := newFakeClock()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithLogger(logging.Discard()).
		WithClock(clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, users: users, clock: clock, mr: mr, rdb: rdb}
}

func (te *testEngine) admin() *AuthResult {
	return &AuthResult{UserID: "u-root", Role: RolePrivileged}
}

// waitEvents blocks until the event store holds at least n events matching filter.
func (te *testEngine) waitEvents(t *testing.T, filter EventFilter, n int) []SecurityEvent {
	t.Helper()
	var events []SecurityEvent
	require.Eventually(t, func() bool {
		var err error
		events, err = collect(te.events.Query(context.Background(), filter))
		return err == nil && len(events) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return events
}

func collect(seq iter.Seq2[SecurityEvent, error]) ([]SecurityEvent, error) {
	var out []SecurityEvent
	for event, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, event)
	}
	return out, nil
}

func newSQLiteRegistry(t *testing.T) *refresh.GormRegistry {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	reg := refresh.NewGormRegistry(db)
	require.NoError(t, reg.Migrate(context.Background()))
	return reg
}
