package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshRotatesWithinFamily(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)

	te.clock.Advance(time.Minute)
	next, err := te.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, login.FamilyID, next.FamilyID)
	assert.Equal(t, "u-alice", next.UserID)
	assert.NotEqual(t, login.RefreshToken, next.RefreshToken)
	assert.NotEqual(t, login.AccessToken, next.AccessToken)
	assert.Equal(t, te.clock.Now().Add(7*24*time.Hour), next.RefreshExpiresAt)

	auth, err := te.ValidateAccess(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.FamilyID, auth.FamilyID)

	events := te.waitEvents(t, EventFilter{Categories: []EventCategory{CategoryTokenRefresh}}, 1)
	assert.True(t, events[0].Success)
	assert.Equal(t, login.FamilyID, events[0].Detail["family_id"])
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)
	r1 := login.RefreshToken

	second, err := te.Refresh(ctx, r1)
	require.NoError(t, err)
	r2 := second.RefreshToken

	// Presenting R1 again is reuse: the whole family dies, R2 included.
	_, err = te.Refresh(ctx, r1)
	require.ErrorIs(t, err, ErrRefreshReused)
	status, code := PublicError(err)
	assert.Equal(t, 401, status)
	assert.Equal(t, CodeRefreshReused, code)

	_, err = te.Refresh(ctx, r2)
	require.ErrorIs(t, err, ErrRefreshReused)

	events := te.waitEvents(t, EventFilter{
		Categories: []EventCategory{CategoryTokenRevoked},
		Severity:   SeverityCritical,
	}, 1)
	assert.Equal(t, "u-alice", events[0].UserID)
	assert.Equal(t, login.FamilyID, events[0].Detail["family_id"])

	// Other families of the same user survive.
	other, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)
	_, err = te.Refresh(ctx, other.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), te.MetricsSnapshot().Counters[MetricRefreshReuse])
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := te.Refresh(ctx, login.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, ErrRefreshReused)
	}
	assert.Equal(t, 1, success)
}

func TestRefreshExpired(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)

	te.clock.Advance(7 * 24 * time.Hour)
	_, err = te.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshExpired)
	status, code := PublicError(err)
	assert.Equal(t, 401, status)
	assert.Equal(t, CodeRefreshExpired, code)

	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricRefreshExpired])
}

func TestRefreshAccessLifetimeCappedByFamily(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.JWT.AccessTTL = time.Hour
		cfg.Refresh.TTL = 10 * time.Minute
	})

	login, err := te.Login(context.Background(), "alice", aliceSecret)
	require.NoError(t, err)
	assert.False(t, login.AccessExpiresAt.After(login.RefreshExpiresAt))
}

func TestRefreshInvalidTokens(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	for _, token := range []string{"", "garbage", "rt1.not.base64!"} {
		_, err := te.Refresh(ctx, token)
		require.ErrorIs(t, err, ErrRefreshInvalid, "token %q", token)
	}

	// A well-formed token with a tampered secret is unknown, not reuse.
	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)
	tampered := []byte(login.RefreshToken)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}
	_, err = te.Refresh(ctx, string(tampered))
	require.ErrorIs(t, err, ErrRefreshInvalid)

	_, err = te.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshDisabledAccountRevokesFamily(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)

	te.users.setStatus("u-alice", AccountDisabled)
	_, err = te.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshInvalid)

	te.users.setStatus("u-alice", AccountActive)
	tokens, err := te.ListActiveTokens(ctx, te.admin(), "u-alice")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestLogoutRevokesFamily(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)

	require.NoError(t, te.Logout(ctx, login.RefreshToken))
	_, err = te.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)

	// Idempotent for revoked and unknown tokens.
	require.NoError(t, te.Logout(ctx, login.RefreshToken))
	other, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)
	require.NoError(t, te.Logout(ctx, other.RefreshToken))
	require.NoError(t, te.Logout(ctx, other.RefreshToken))

	require.ErrorIs(t, te.Logout(ctx, "garbage"), ErrRefreshInvalid)

	te.waitEvents(t, EventFilter{Categories: []EventCategory{CategoryLogout}}, 3)
}

func TestLogoutFamilyFromAccessToken(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	login, err := te.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)
	auth, err := te.ValidateAccess(ctx, login.AccessToken)
	require.NoError(t, err)

	require.NoError(t, te.LogoutFamily(ctx, auth.FamilyID))
	_, err = te.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefreshReused) || errors.Is(err, ErrRefreshInvalid))

	require.ErrorIs(t, te.LogoutFamily(ctx, " "), ErrRefreshInvalid)
	require.NoError(t, te.LogoutFamily(ctx, "unknown-family"))
}

func TestRefreshWithGormRegistry(t *testing.T) {
	reg := newSQLiteRegistry(t)
	users := newMockUserProvider()
	users.add(t, "u-alice", "alice", aliceSecret, RoleOrdinary, AccountActive)

	engine, err := New().
		WithConfig(TestConfig()).
		WithUserProvider(users).
		WithRefreshRegistry(reg).
		WithLogger(logging.Discard()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	login, err := engine.Login(ctx, "alice", aliceSecret)
	require.NoError(t, err)
	next, err := engine.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	_, err = engine.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshReused)
	_, err = engine.Refresh(ctx, next.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshReused)
}
