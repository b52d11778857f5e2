package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenDisabled(t *testing.T) {
	exp := New(fakeSource{snapshot: authcore.NewMetrics(authcore.MetricsConfig{}).Snapshot()})
	assert.Empty(t, exp.Render())

	var nilExp *Exporter
	assert.Empty(t, nilExp.Render())
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 7,
				authcore.MetricRefreshReuse: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	assert.Contains(t, out, "# TYPE authcore_login_success_total counter\n")
	assert.Contains(t, out, "authcore_login_success_total 7\n")
	assert.Contains(t, out, "authcore_refresh_reuse_total 1\n")
	assert.Contains(t, out, "authcore_login_failure_total 0\n")
	assert.Contains(t, out, `authcore_validate_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, out, `authcore_validate_latency_seconds_bucket{le="+Inf"} 36`)
	assert.Contains(t, out, "authcore_validate_latency_seconds_count 36\n")
	assert.Contains(t, out, "authcore_audit_queue_dropped_total 2\n")
}

func TestRenderOmitsDisabledHistogram(t *testing.T) {
	exp := New(fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
		Histograms: map[authcore.MetricID][]uint64{},
	}})
	assert.NotContains(t, exp.Render(), "authcore_validate_latency_seconds")
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := authcore.New().
		WithConfig(authcore.TestConfig()).
		WithRedis(rdb).
		WithUserProvider(noUsers{}).
		WithLogger(logging.Discard()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	_, err = engine.Login(context.Background(), "ghost", "Whatever-123!")
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	rec := httptest.NewRecorder()
	New(engine).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "authcore_login_failure_total 1\n")
}

type noUsers struct{}

func (noUsers) GetUserByIdentifier(context.Context, string) (authcore.UserRecord, error) {
	return authcore.UserRecord{}, authcore.ErrUserNotFound
}

func (noUsers) GetUserByID(context.Context, string) (authcore.UserRecord, error) {
	return authcore.UserRecord{}, authcore.ErrUserNotFound
}

func (noUsers) CreateUser(context.Context, authcore.CreateUserInput) (authcore.UserRecord, error) {
	return authcore.UserRecord{}, authcore.ErrStoreUnavailable
}

func (noUsers) UpdatePasswordHash(context.Context, string, string) error {
	return authcore.ErrUserNotFound
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters: map[authcore.MetricID]uint64{
			authcore.MetricLoginSuccess:   1000,
			authcore.MetricLoginFailure:   40,
			authcore.MetricRefreshSuccess: 800,
		},
		Histograms: map[authcore.MetricID][]uint64{
			authcore.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
		},
	}})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
