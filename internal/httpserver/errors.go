package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
)

// renderError writes the public form of err. Server-side failures are
// logged and reported to Sentry; the response never carries the cause.
func renderError(c echo.Context, logger *slog.Logger, err error) error {
	status, code := authcore.PublicError(err)
	if wait, ok := authcore.RetryAfter(err); ok {
		c.Response().Header().Set("Retry-After", strconv.Itoa(middleware.RetryAfterSeconds(wait.Seconds())))
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request_failed",
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("route", c.Path())
			scope.SetTag("code", code)
			sentry.CaptureException(err)
		})
	}

	return c.JSON(status, middleware.ErrorBody{Error: code})
}
