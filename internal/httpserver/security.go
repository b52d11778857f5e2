package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/labstack/echo/v4"
)

// SecurityHTTP exposes the privileged operations. The Engine enforces the
// role check so rejected calls are still recorded as security events.
type SecurityHTTP struct {
	Engine *authcore.Engine
	Logger *slog.Logger
}

func (h *SecurityHTTP) scope(c echo.Context, handler string) (*slog.Logger, *authcore.AuthResult) {
	ctx := c.Request().Context()
	caller, _ := middleware.AuthResultFromContext(ctx)
	return logging.FromContext(ctx, h.Logger).With(slog.String("handler", handler)), caller
}

func (h *SecurityHTTP) Events(c echo.Context) error {
	l, caller := h.scope(c, "security_events")
	filter, err := parseEventFilter(c)
	if err != nil {
		return renderError(c, l, err)
	}

	seq, err := h.Engine.ListSecurityEvents(c.Request().Context(), caller, filter)
	if err != nil {
		return renderError(c, l, err)
	}

	events := make([]authcore.SecurityEvent, 0, 32)
	for event, err := range seq {
		if err != nil {
			return renderError(c, l, err)
		}
		events = append(events, event)
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}

func (h *SecurityHTTP) Stats(c echo.Context) error {
	l, caller := h.scope(c, "security_stats")
	var window time.Duration
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return renderError(c, l, authcore.ErrInvalidRequest)
		}
		window = d
	}

	stats, err := h.Engine.SecurityEventStats(c.Request().Context(), caller, window)
	if err != nil {
		return renderError(c, l, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"since":       stats.Since,
		"until":       stats.Until,
		"total":       stats.Total,
		"by_category": stats.ByCategory,
		"by_severity": stats.BySeverity,
	})
}

func (h *SecurityHTTP) Health(c echo.Context) error {
	l, caller := h.scope(c, "security_health")
	report, err := h.Engine.SecurityHealth(c.Request().Context(), caller)
	if err != nil {
		return renderError(c, l, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":            report.Status,
		"checked_at":        report.CheckedAt,
		"error_events":      report.ErrorEvents,
		"auth_failures":     report.AuthFailures,
		"locked_accounts":   report.LockedAccounts,
		"dropped_events":    report.DroppedEvents,
		"failed_deliveries": report.FailedDeliveries,
	})
}

func (h *SecurityHTTP) ActiveTokens(c echo.Context) error {
	l, caller := h.scope(c, "security_active_tokens")
	tokens, err := h.Engine.ListActiveTokens(c.Request().Context(), caller, c.QueryParam("user_id"))
	if err != nil {
		return renderError(c, l, err)
	}

	out := make([]echo.Map, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, echo.Map{
			"token_id":     t.TokenID,
			"family_id":    t.FamilyID,
			"issued_at":    t.IssuedAt,
			"expires_at":   t.ExpiresAt,
			"last_used_at": t.LastUsedAt,
			"ip":           t.IP,
			"user_agent":   t.UserAgent,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"tokens": out})
}

func (h *SecurityHTTP) Cleanup(c echo.Context) error {
	l, caller := h.scope(c, "security_cleanup")
	res, err := h.Engine.CleanupTokens(c.Request().Context(), caller)
	if err != nil {
		return renderError(c, l, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": res.Removed, "cutoff": res.Cutoff})
}

func (h *SecurityHTTP) Lockout(c echo.Context) error {
	l, caller := h.scope(c, "security_lockout")
	info, err := h.Engine.LockoutStatus(c.Request().Context(), caller, c.Param("identifier"))
	if err != nil {
		return renderError(c, l, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"identifier":          info.Identifier,
		"state":               info.State,
		"failures":            info.Failures,
		"retry_after_seconds": int(info.RetryAfter / time.Second),
	})
}

func (h *SecurityHTTP) Unlock(c echo.Context) error {
	l, caller := h.scope(c, "security_unlock")
	if err := h.Engine.UnlockAccount(c.Request().Context(), caller, c.Param("identifier")); err != nil {
		return renderError(c, l, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SecurityHTTP) LockUser(c echo.Context) error {
	l, caller := h.scope(c, "security_lock_user")
	if err := h.Engine.DisableAccount(c.Request().Context(), caller, c.Param("id")); err != nil {
		return renderError(c, l, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SecurityHTTP) UnlockUser(c echo.Context) error {
	l, caller := h.scope(c, "security_unlock_user")
	if err := h.Engine.EnableAccount(c.Request().Context(), caller, c.Param("id")); err != nil {
		return renderError(c, l, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseEventFilter(c echo.Context) (authcore.EventFilter, error) {
	var f authcore.EventFilter
	var err error

	if f.Since, err = parseTime(c.QueryParam("since")); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(c.QueryParam("until")); err != nil {
		return f, err
	}
	if raw := c.QueryParam("until_seq"); raw != "" {
		n, convErr := strconv.ParseUint(raw, 10, 64)
		if convErr != nil || f.Until.IsZero() {
			return f, authcore.ErrInvalidRequest
		}
		f.UntilSeq = n
	}
	if raw := c.QueryParam("category"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				f.Categories = append(f.Categories, authcore.EventCategory(name))
			}
		}
	}
	if raw := c.QueryParam("severity"); raw != "" {
		f.Severity = authcore.Severity(strings.ToUpper(raw))
		if f.Severity.Rank() == 0 {
			return f, authcore.ErrInvalidRequest
		}
	}
	f.UserID = c.QueryParam("user_id")
	if raw := c.QueryParam("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return f, authcore.ErrInvalidRequest
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, authcore.ErrInvalidRequest
	}
	return t, nil
}
