package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "Correct-Horse-42!"

type fixture struct {
	engine *authcore.Engine
	users  *stores.UserStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	users := stores.NewUserStore(db)
	require.NoError(t, users.Migrate(context.Background()))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := authcore.New().
		WithConfig(authcore.TestConfig()).
		WithRedis(rdb).
		WithUserProvider(users).
		WithLogger(logging.Discard()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &fixture{engine: engine, users: users}
}

func (f *fixture) login(t *testing.T, identifier string, privileged bool) *authcore.LoginResult {
	t.Helper()
	ctx := context.Background()

	user, err := f.engine.Register(ctx, identifier, testSecret)
	require.NoError(t, err)
	if privileged {
		require.NoError(t, f.users.SetRole(ctx, user.UserID, authcore.RolePrivileged))
	}

	res, err := f.engine.Login(ctx, identifier, testSecret)
	require.NoError(t, err)
	return res
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(res.UserID))
	})
}

func TestGuardAcceptsValidToken(t *testing.T) {
	f := newFixture(t)
	login := f.login(t, "alice", false)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	Guard(f.engine)(okHandler(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, login.UserID, rec.Body.String())
}

func TestGuardRejects(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
		"empty bearer":   "Bearer ",
		"garbage token":  "Bearer not.a.jwt",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			Guard(f.engine)(okHandler(t)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, authcore.CodeTokenInvalid, decodeError(t, rec))
		})
	}
}

func TestGuardNilEngine(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	Guard(nil)(okHandler(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequirePrivileged(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice", false)
	root := f.login(t, "root", true)

	handler := Guard(f.engine)(RequirePrivileged(okHandler(t)))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+alice.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, authcore.CodeUnauthorized, decodeError(t, rec))

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "bearer "+root.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without Guard there is no identity at all.
	rec = httptest.NewRecorder()
	RequirePrivileged(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded header ignored", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "192.0.2.1:1234", "192.0.2.1"},
		{"real ip ignored", map[string]string{"X-Real-IP": "198.51.100.4"}, "192.0.2.1:1234", "192.0.2.1"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"remote addr without port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}

func TestProxyTrustClientIP(t *testing.T) {
	trust, err := NewProxyTrust("10.0.0.0/8", " 192.0.2.50 ")
	require.NoError(t, err)
	require.Len(t, trust.Ranges(), 2)

	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer keeps its own address", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "198.51.100.20:1234", "198.51.100.20"},
		{"trusted peer single hop", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "10.0.0.2:1234", "203.0.113.7"},
		{"spoofed leftmost hop skipped", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7, 10.0.0.9"}, "10.0.0.2:1234", "203.0.113.7"},
		{"bare address range", map[string]string{"X-Forwarded-For": "203.0.113.8"}, "192.0.2.50:80", "203.0.113.8"},
		{"garbage hop stops at peer", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.2:1234", "10.0.0.2"},
		{"real ip from trusted peer", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"all hops trusted", map[string]string{"X-Forwarded-For": "10.1.1.1"}, "10.0.0.2:1234", "10.0.0.2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, trust.ClientIP(req))
		})
	}

	var none *ProxyTrust
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "10.0.0.2", none.ClientIP(req))

	_, err = NewProxyTrust("10.0.0.0/33")
	require.Error(t, err)
	_, err = NewProxyTrust("proxy.internal")
	require.Error(t, err)
}

func TestRequestMeta(t *testing.T) {
	var gotIP, gotUA string
	handler := RequestMeta(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = authcore.ClientIPFromContext(r.Context())
		gotUA = authcore.UserAgentFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "192.0.2.10:40000"
	req.Header.Set("User-Agent", "curl/8.5")
	req.Header.Set("X-Forwarded-For", "203.0.113.99")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.10", gotIP)
	assert.Equal(t, "curl/8.5", gotUA)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &authcore.RateLimitError{RetryAfter: 1500 * time.Millisecond})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, authcore.CodeRateLimited, decodeError(t, rec))

	rec = httptest.NewRecorder()
	WriteError(rec, authcore.ErrAccountLocked)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, authcore.CodeInvalidCredentials, decodeError(t, rec))

	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 60, RetryAfterSeconds(59.2))
}
