package authcore

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
)

const (
	healthWindow = time.Hour

	healthWarnErrors     = 10
	healthWarnFailures   = 50
	healthCritErrors     = 50
	healthCritFailures   = 100
	statsMaxPages        = 100
	defaultStatsInterval = 24 * time.Hour
)

// authorize admits an administrative call: the requester must hold
// RolePrivileged and pass the read rate limit.
func (e *Engine) authorize(ctx context.Context, requester *AuthResult, op string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !requester.Privileged() {
		e.metricInc(MetricUnauthorizedAdmin)
		in := eventInput{
			category: CategoryAuthFailure,
			severity: SeverityWarning,
			code:     CodeUnauthorized,
			detail:   map[string]string{"operation": op},
		}
		if requester != nil {
			in.userID = requester.UserID
		}
		e.emit(ctx, in)
		return ErrUnauthorized
	}
	return e.admit(ctx, rate.ClassRead, "user:"+requester.UserID)
}

// ListSecurityEvents describes the list security events operation and its observable behavior.
//
// ListSecurityEvents returns a lazy, newest-first sequence of at most
// filter.Limit events (default 100, capped at 1000). Iteration stops at the
// first storage error, which is yielded as ErrStoreUnavailable. The sequence
// is not restartable; page by calling again with filter.After(last), where
// last is the final event of the previous page.
func (e *Engine) ListSecurityEvents(ctx context.Context, requester *AuthResult, filter EventFilter) (iter.Seq2[SecurityEvent, error], error) {
	if err := e.authorize(ctx, requester, "list_security_events"); err != nil {
		return nil, err
	}
	return e.queryEvents(ctx, filter), nil
}

func (e *Engine) queryEvents(ctx context.Context, filter EventFilter) iter.Seq2[SecurityEvent, error] {
	return func(yield func(SecurityEvent, error) bool) {
		qctx, cancel := e.storeCtx(ctx)
		defer cancel()
		for event, err := range e.events.Query(qctx, filter) {
			if err != nil {
				yield(SecurityEvent{}, storeErr(err))
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

// scanEvents walks every event matching filter, newest first, page by page.
func (e *Engine) scanEvents(ctx context.Context, filter EventFilter, fn func(SecurityEvent)) error {
	filter.Limit = audit.MaxQueryLimit
	for page := 0; page < statsMaxPages; page++ {
		var (
			n    int
			last SecurityEvent
		)
		for event, err := range e.queryEvents(ctx, filter) {
			if err != nil {
				return err
			}
			fn(event)
			n++
			last = event
		}
		if n < filter.Limit {
			return nil
		}
		filter = filter.After(last)
	}
	e.logger.Warn("security event scan truncated",
		slog.String("component", "audit"),
		slog.Int("pages", statsMaxPages),
	)
	return nil
}

// SecurityEventStats counts events of the last window by category and
// severity. A zero window means 24 hours.
func (e *Engine) SecurityEventStats(ctx context.Context, requester *AuthResult, window time.Duration) (EventStats, error) {
	if err := e.authorize(ctx, requester, "security_event_stats"); err != nil {
		return EventStats{}, err
	}
	if window <= 0 {
		window = defaultStatsInterval
	}

	now := e.now()
	stats := EventStats{
		Since:      now.Add(-window),
		Until:      now,
		ByCategory: make(map[EventCategory]int, len(audit.Categories())),
		BySeverity: make(map[Severity]int, len(audit.Severities())),
	}
	for _, c := range audit.Categories() {
		stats.ByCategory[c] = 0
	}
	for _, s := range audit.Severities() {
		stats.BySeverity[s] = 0
	}

	err := e.scanEvents(ctx, EventFilter{Since: stats.Since}, func(event SecurityEvent) {
		stats.Total++
		stats.ByCategory[event.Category]++
		stats.BySeverity[event.Severity]++
	})
	if err != nil {
		return EventStats{}, err
	}
	return stats, nil
}

// SecurityHealth describes the security health operation and its observable behavior.
//
// SecurityHealth inspects the last hour: ERROR and CRITICAL events,
// auth_failure events and currently locked identifiers. More than 10 error
// events or 50 failures is a warning; more than 50 error events or 100
// failures is critical.
func (e *Engine) SecurityHealth(ctx context.Context, requester *AuthResult) (SecurityHealthReport, error) {
	if err := e.authorize(ctx, requester, "security_health"); err != nil {
		return SecurityHealthReport{}, err
	}

	now := e.now()
	since := now.Add(-healthWindow)
	report := SecurityHealthReport{
		Status:           HealthHealthy,
		CheckedAt:        now,
		DroppedEvents:    e.audit.Dropped(),
		FailedDeliveries: e.audit.Failed(),
	}

	err := e.scanEvents(ctx, EventFilter{Since: since, Severity: SeverityError}, func(SecurityEvent) {
		report.ErrorEvents++
	})
	if err != nil {
		return SecurityHealthReport{}, err
	}
	err = e.scanEvents(ctx, EventFilter{Since: since, Categories: []EventCategory{CategoryAuthFailure}}, func(SecurityEvent) {
		report.AuthFailures++
	})
	if err != nil {
		return SecurityHealthReport{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	locked, err := e.lockout.LockedCount(sctx, now)
	cancel()
	if err != nil {
		return SecurityHealthReport{}, storeErr(err)
	}
	report.LockedAccounts = locked

	switch {
	case report.ErrorEvents > healthCritErrors || report.AuthFailures > healthCritFailures:
		report.Status = HealthCritical
	case report.ErrorEvents > healthWarnErrors || report.AuthFailures > healthWarnFailures:
		report.Status = HealthWarning
	}
	return report, nil
}

// LockoutStatus discloses the lockout state of identifier, including the
// remaining lock time, to privileged callers.
func (e *Engine) LockoutStatus(ctx context.Context, requester *AuthResult, identifier string) (LockoutInfo, error) {
	if err := e.authorize(ctx, requester, "lockout_status"); err != nil {
		return LockoutInfo{}, err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return LockoutInfo{}, ErrInvalidRequest
	}

	sctx, cancel := e.storeCtx(ctx)
	status, err := e.lockout.Check(sctx, identifier, e.now())
	cancel()
	if err != nil {
		return LockoutInfo{}, storeErr(err)
	}
	return LockoutInfo{
		Identifier: identifier,
		State:      status.State.String(),
		Failures:   status.Failures,
		RetryAfter: status.RetryAfter,
	}, nil
}

// UnlockAccount clears the lockout state of identifier.
func (e *Engine) UnlockAccount(ctx context.Context, requester *AuthResult, identifier string) error {
	if err := e.authorize(ctx, requester, "unlock_account"); err != nil {
		return err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ErrInvalidRequest
	}

	sctx, cancel := e.storeCtx(ctx)
	err := e.lockout.Reset(sctx, identifier)
	cancel()
	if err != nil {
		return storeErr(err)
	}

	e.emit(ctx, eventInput{
		category:   CategoryLockout,
		identifier: identifier,
		success:    true,
		code:       "unlocked",
		detail:     map[string]string{"by": requester.UserID},
	})
	return nil
}

// ListActiveTokens lists the live refresh tokens of userID without secrets.
func (e *Engine) ListActiveTokens(ctx context.Context, requester *AuthResult, userID string) ([]ActiveToken, error) {
	if err := e.authorize(ctx, requester, "list_active_tokens"); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	sctx, cancel := e.storeCtx(ctx)
	records, err := e.refresh.ListActive(sctx, userID, e.now())
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}

	out := make([]ActiveToken, 0, len(records))
	for _, r := range records {
		out = append(out, ActiveToken{
			TokenID:    r.ID,
			FamilyID:   r.FamilyID,
			IssuedAt:   r.IssuedAt,
			ExpiresAt:  r.ExpiresAt,
			LastUsedAt: r.LastUsedAt,
			IP:         r.IP,
			UserAgent:  r.UserAgent,
		})
	}
	return out, nil
}

// CleanupTokens runs one sweep of expired refresh records older than the
// configured grace period and records a token_cleanup event.
func (e *Engine) CleanupTokens(ctx context.Context, requester *AuthResult) (CleanupResult, error) {
	if err := e.authorize(ctx, requester, "cleanup_tokens"); err != nil {
		return CleanupResult{}, err
	}

	cutoff := e.now().Add(-e.config.Refresh.SweepGrace)
	sctx, cancel := e.storeCtx(ctx)
	removed, err := e.sweeper.RunOnce(sctx)
	cancel()
	if err != nil {
		return CleanupResult{Removed: removed, Cutoff: cutoff}, storeErr(err)
	}

	e.metrics.Add(MetricTokensCleanedUp, uint64(removed))
	e.emit(ctx, eventInput{
		category: CategoryTokenCleanup,
		userID:   requester.UserID,
		success:  true,
		detail:   map[string]string{"removed": strconv.Itoa(removed)},
	})
	return CleanupResult{Removed: removed, Cutoff: cutoff}, nil
}

// DisableAccount disables userID and revokes every refresh family it holds.
// Access tokens already issued stay valid until they expire. Requesters
// cannot disable themselves, and the UserProvider must implement
// [AccountStatusSetter]; both cases return ErrInvalidRequest.
func (e *Engine) DisableAccount(ctx context.Context, requester *AuthResult, userID string) error {
	if err := e.authorize(ctx, requester, "disable_account"); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == requester.UserID {
		return ErrInvalidRequest
	}
	user, err := e.setAccountStatus(ctx, userID, AccountDisabled)
	if err != nil {
		return err
	}

	sctx, cancel := e.storeCtx(ctx)
	revoked, err := e.refresh.RevokeUser(sctx, user.UserID)
	cancel()
	if err != nil {
		e.logger.Error("session revocation after account disable failed",
			slog.String("component", "refresh"),
			slog.String("user_id", user.UserID),
			slog.Any("error", err),
		)
		return storeErr(err)
	}

	e.emit(ctx, eventInput{
		category:   CategoryLockout,
		severity:   SeverityWarning,
		userID:     user.UserID,
		identifier: user.Identifier,
		success:    true,
		code:       "user_locked",
		detail: map[string]string{
			"by":      requester.UserID,
			"revoked": strconv.Itoa(revoked),
		},
	})
	return nil
}

// EnableAccount re-enables an account disabled by DisableAccount. It does
// not touch the failure-based lockout; use UnlockAccount for that.
func (e *Engine) EnableAccount(ctx context.Context, requester *AuthResult, userID string) error {
	if err := e.authorize(ctx, requester, "enable_account"); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidRequest
	}
	user, err := e.setAccountStatus(ctx, userID, AccountActive)
	if err != nil {
		return err
	}

	e.emit(ctx, eventInput{
		category:   CategoryLockout,
		userID:     user.UserID,
		identifier: user.Identifier,
		success:    true,
		code:       "user_enabled",
		detail:     map[string]string{"by": requester.UserID},
	})
	return nil
}

func (e *Engine) setAccountStatus(ctx context.Context, userID string, status AccountStatus) (UserRecord, error) {
	setter, ok := e.users.(AccountStatusSetter)
	if !ok {
		return UserRecord{}, ErrInvalidRequest
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.users.GetUserByID(sctx, userID)
	cancel()
	switch {
	case errors.Is(err, ErrUserNotFound):
		return UserRecord{}, ErrInvalidRequest
	case err != nil:
		return UserRecord{}, storeErr(err)
	}

	sctx, cancel = e.storeCtx(ctx)
	err = setter.SetStatus(sctx, user.UserID, status)
	cancel()
	switch {
	case errors.Is(err, ErrUserNotFound):
		return UserRecord{}, ErrInvalidRequest
	case err != nil:
		return UserRecord{}, storeErr(err)
	}
	return user, nil
}
