package httpserver

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/labstack/echo/v4"
)

// Deps carries what the routes need.
type Deps struct {
	Engine *authcore.Engine
	Logger *slog.Logger
	// Ready reports backend readiness for /healthz. Nil means always ready.
	Ready func(c echo.Context) error
	// TrustedProxies are the only peers whose X-Forwarded-For is honored.
	// Empty means the client address is always the direct peer.
	TrustedProxies []*net.IPNet
}

// ipExtractor trusts forwarding headers from the configured ranges only.
func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// Register mounts every route on e.
func Register(e *echo.Echo, d *Deps) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e.IPExtractor = ipExtractor(d.TrustedProxies)
	e.Use(Recover(logger))
	e.Use(RequestMeta())
	e.Use(RequestLogger(logger))

	e.GET("/healthz", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(prometheus.New(d.Engine).Handler()))

	auth := &AuthHTTP{Engine: d.Engine, Logger: logger}
	security := &SecurityHTTP{Engine: d.Engine, Logger: logger}
	guard := echo.WrapMiddleware(middleware.Guard(d.Engine))

	e.POST("/auth/register", auth.Register)
	e.POST("/auth/login", auth.Login)
	e.POST("/auth/refresh", auth.Refresh)
	e.POST("/auth/logout", auth.Logout)

	// Guarded routes take the guard per route; a group with middleware would
	// also catch unknown paths under its prefix and answer them with 401.
	e.POST("/auth/logout/session", auth.LogoutSession, guard)
	e.POST("/auth/change-password", auth.ChangePassword, guard)
	e.GET("/auth/me", auth.Me, guard)

	e.GET("/security/events", security.Events, guard)
	e.GET("/security/events/stats", security.Stats, guard)
	e.GET("/security/health", security.Health, guard)
	e.GET("/security/tokens/active", security.ActiveTokens, guard)
	e.POST("/security/tokens/cleanup", security.Cleanup, guard)
	e.GET("/security/lockouts/:identifier", security.Lockout, guard)
	e.DELETE("/security/lockouts/:identifier", security.Unlock, guard)
	e.POST("/security/users/:id/lock", security.LockUser, guard)
	e.POST("/security/users/:id/unlock", security.UnlockUser, guard)
}
