package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
)

// RequestMeta stores c.RealIP and the User-Agent on the request context for
// rate limiting and security events. The address comes from e.IPExtractor.
func RequestMeta() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := authcore.WithClientIP(req.Context(), c.RealIP())
			ctx = authcore.WithUserAgent(ctx, req.UserAgent())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// RequestLogger logs one line per request and puts a request-scoped logger
// on the context.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			l := logger.With(slog.String("method", req.Method), slog.String("path", c.Path()))
			c.SetRequest(req.WithContext(logging.IntoContext(req.Context(), l)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			l.Info("http_request",
				slog.Int("status", c.Response().Status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("ip", authcore.ClientIPFromContext(c.Request().Context())),
			)
			return nil
		}
	}
}

// Recover turns a panic into a 500 and reports it to Sentry.
func Recover(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", fmt.Sprint(rec))
					scope.SetExtra("stack", string(debug.Stack()))
					sentry.CaptureMessage("panic in request")
				})
				logger.Error("panic_recovered",
					slog.String("path", c.Path()),
					slog.String("method", c.Request().Method),
					slog.Any("panic", rec),
				)
				err = c.JSON(http.StatusInternalServerError, middleware.ErrorBody{Error: authcore.CodeInternal})
			}()
			return next(c)
		}
	}
}
