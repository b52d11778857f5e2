package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
)

// Engine coordinates credential verification, lockout, rate limiting, token
// issuance and rotation, and security event logging. It is safe for
// concurrent use; build it with New().Build().
type Engine struct {
	config  Config
	users   UserProvider
	hasher  *password.Bcrypt
	policy  password.Policy
	tokens  *jwt.Manager
	refresh refresh.Registry
	sweeper *refresh.Sweeper
	lockout limiters.Tracker
	limiter rate.Admitter
	events  EventStore
	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	closeOnce sync.Once
}

// Close stops the refresh sweeper and drains queued security events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.sweeper.Stop()
		e.audit.Close()
	})
}

// AuditDropped reports how many security events were dropped because the
// dispatcher queue was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeCtx bounds a single backend call by Store.OperationTimeout.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

// admit runs the sliding-window check for class. Keys fall back to the
// given identity when the transport supplied no client IP.
func (e *Engine) admit(ctx context.Context, class rate.Class, fallbackKey string) error {
	key := ClientIPFromContext(ctx)
	if key == "" {
		key = "id:" + fallbackKey
	} else {
		key = "ip:" + key
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	decision, err := e.limiter.Admit(sctx, class, key, e.now())
	if err != nil {
		return storeErr(err)
	}
	if decision.Allowed {
		return nil
	}

	e.metricInc(MetricRateLimited)
	e.emit(ctx, eventInput{
		category:   CategoryRateLimited,
		severity:   SeverityWarning,
		identifier: fallbackKey,
		code:       CodeRateLimited,
		detail: map[string]string{
			"class":       string(class),
			"retry_after": decision.RetryAfter.String(),
		},
	})
	return &RateLimitError{Class: class, RetryAfter: decision.RetryAfter}
}

/*
====================================
LOGIN
====================================
*/

// Login describes the login operation and its observable behavior.
//
// Login admits the request against the login rate limit, checks the
// identifier's lockout state, verifies the secret and on success starts a new
// refresh family and mints an access token capped by its expiry. Unknown
// identifiers, wrong secrets, disabled accounts and locked accounts all cost
// one bcrypt comparison; locked accounts return *LockedError, everything else
// ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	identifier = strings.TrimSpace(identifier)

	if err := e.admit(ctx, rate.ClassLogin, identifier); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		return nil, err
	}
	if identifier == "" || secret == "" {
		e.hasher.Dummy(ctx, secret)
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	now := e.now()

	// -------- LOCKOUT --------
	sctx, cancel := e.storeCtx(ctx)
	status, err := e.lockout.Check(sctx, identifier, now)
	cancel()
	if err != nil {
		e.hasher.Dummy(ctx, secret)
		e.logger.Warn("lockout check failed", slog.String("component", "lockout"), slog.Any("error", err))
		return nil, storeErr(err)
	}
	if status.Locked() {
		e.lockedAttempt(ctx, identifier, secret, now)
		e.metricInc(MetricLoginLocked)
		e.emit(ctx, eventInput{
			category:   CategoryAuthFailure,
			severity:   SeverityWarning,
			identifier: identifier,
			code:       "account_locked",
			detail:     map[string]string{"retry_after": status.RetryAfter.String()},
		})
		return nil, &LockedError{RetryAfter: status.RetryAfter}
	}

	// -------- CREDENTIALS --------
	sctx, cancel = e.storeCtx(ctx)
	user, err := e.users.GetUserByIdentifier(sctx, identifier)
	cancel()
	switch {
	case errors.Is(err, ErrUserNotFound):
		e.hasher.Dummy(ctx, secret)
		return nil, e.loginFailed(ctx, identifier, "", "unknown_identifier")
	case err != nil:
		e.hasher.Dummy(ctx, secret)
		return nil, storeErr(err)
	}

	if !e.hasher.Verify(ctx, secret, user.PasswordHash) {
		return nil, e.loginFailed(ctx, identifier, user.UserID, "secret_mismatch")
	}
	if user.Status != AccountActive {
		return nil, e.loginFailed(ctx, identifier, user.UserID, "account_"+user.Status.String())
	}

	// -------- SUCCESS --------
	sctx, cancel = e.storeCtx(ctx)
	if err := e.lockout.Reset(sctx, identifier); err != nil {
		e.logger.Warn("lockout reset failed", slog.String("component", "lockout"), slog.Any("error", err))
	}
	cancel()
	e.upgradeHash(ctx, user, secret)

	sctx, cancel = e.storeCtx(ctx)
	issued, err := e.refresh.Issue(sctx, refresh.IssueRequest{
		UserID:    user.UserID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Now:       now,
		TTL:       e.config.Refresh.TTL,
	})
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}

	result, err := e.mint(user, issued.Token, issued.Record, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, eventInput{
		category:   CategoryAuthSuccess,
		userID:     user.UserID,
		identifier: identifier,
		success:    true,
		detail:     map[string]string{"family_id": issued.Record.FamilyID},
	})
	return result, nil
}

// lockedAttempt spends the same store round-trips and bcrypt work as a
// wrong secret so a locked identifier does not answer faster. RecordFailure
// does not change a record that is still locked at now.
func (e *Engine) lockedAttempt(ctx context.Context, identifier, secret string, now time.Time) {
	sctx, cancel := e.storeCtx(ctx)
	_, _ = e.users.GetUserByIdentifier(sctx, identifier)
	cancel()
	e.hasher.Dummy(ctx, secret)
	sctx, cancel = e.storeCtx(ctx)
	_, _ = e.lockout.RecordFailure(sctx, identifier, now)
	cancel()
}

// loginFailed records a failure against identifier and returns the uniform
// credential error. reason only reaches the security event.
func (e *Engine) loginFailed(ctx context.Context, identifier, userID, reason string) error {
	e.metricInc(MetricLoginFailure)
	status := e.recordFailure(ctx, identifier, userID)
	e.emit(ctx, eventInput{
		category:   CategoryAuthFailure,
		severity:   SeverityWarning,
		userID:     userID,
		identifier: identifier,
		code:       CodeInvalidCredentials,
		detail: map[string]string{
			"reason":   reason,
			"failures": fmt.Sprint(status.Failures),
		},
	})
	return ErrInvalidCredentials
}

// recordFailure advances the lockout state machine for identifier and emits
// a lockout event when the threshold is reached. Backend errors are logged.
func (e *Engine) recordFailure(ctx context.Context, identifier, userID string) limiters.Status {
	sctx, cancel := e.storeCtx(ctx)
	status, err := e.lockout.RecordFailure(sctx, identifier, e.now())
	cancel()
	if err != nil {
		e.logger.Warn("lockout failure not recorded", slog.String("component", "lockout"), slog.Any("error", err))
		return limiters.Status{}
	}

	if status.Locked() {
		e.metricInc(MetricLockoutTriggered)
		e.emit(ctx, eventInput{
			category:   CategoryLockout,
			severity:   SeverityWarning,
			userID:     userID,
			identifier: identifier,
			code:       "account_locked",
			detail: map[string]string{
				"failures": fmt.Sprint(status.Failures),
				"duration": status.RetryAfter.String(),
			},
		})
	}
	return status
}

func (e *Engine) upgradeHash(ctx context.Context, user UserRecord, secret string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	hash, err := e.hasher.Hash(ctx, secret)
	if err != nil {
		e.logger.Warn("password hash upgrade failed", slog.String("component", "password"), slog.Any("error", err))
		return
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.users.UpdatePasswordHash(sctx, user.UserID, hash); err != nil {
		e.logger.Warn("password hash upgrade not stored", slog.String("component", "password"), slog.Any("error", err))
	}
}

func (e *Engine) mint(user UserRecord, refreshToken string, rec refresh.Record, now time.Time) (*LoginResult, error) {
	access, claims, err := e.tokens.Mint(jwt.MintInput{
		Subject:  user.UserID,
		Role:     string(user.Role),
		FamilyID: rec.FamilyID,
		Now:      now,
		Ceiling:  rec.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	return &LoginResult{
		UserID:           user.UserID,
		Role:             user.Role,
		FamilyID:         rec.FamilyID,
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

/*
====================================
REFRESH
====================================
*/

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh rotates the presented refresh token. Exactly one of any number of
// concurrent rotations of the same token succeeds. A revoked token returns
// ErrRefreshReused and revokes its whole family; an expired one returns
// ErrRefreshExpired and revokes the family too; unknown or malformed tokens
// return ErrRefreshInvalid.
func (e *Engine) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	recordID, decodeErr := refresh.RecordID(token)
	if err := e.admit(ctx, rate.ClassRefresh, "rt:"+recordID); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		e.metricInc(MetricRefreshInvalid)
		e.emit(ctx, eventInput{category: CategoryTokenRefresh, severity: SeverityWarning, code: CodeRefreshInvalid})
		return nil, ErrRefreshInvalid
	}

	now := e.now()
	sctx, cancel := e.storeCtx(ctx)
	res, err := e.refresh.Rotate(sctx, token, refresh.RotateRequest{
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Now:       now,
		TTL:       e.config.Refresh.TTL,
	})
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}

	switch res.Outcome {
	case refresh.OutcomeRotated:
	case refresh.OutcomeReused:
		e.metricInc(MetricRefreshReuse)
		e.emit(ctx, eventInput{
			category: CategoryTokenRevoked,
			severity: SeverityCritical,
			userID:   res.Previous.UserID,
			code:     CodeRefreshReused,
			detail: map[string]string{
				"family_id": res.Previous.FamilyID,
				"token_id":  recordID,
				"revoked":   fmt.Sprint(res.Revoked),
			},
		})
		return nil, ErrRefreshReused
	case refresh.OutcomeExpired:
		e.metricInc(MetricRefreshExpired)
		e.emit(ctx, eventInput{
			category: CategoryTokenRevoked,
			severity: SeverityWarning,
			userID:   res.Previous.UserID,
			code:     CodeRefreshExpired,
			detail: map[string]string{
				"family_id": res.Previous.FamilyID,
				"revoked":   fmt.Sprint(res.Revoked),
			},
		})
		return nil, ErrRefreshExpired
	default:
		e.metricInc(MetricRefreshInvalid)
		e.emit(ctx, eventInput{category: CategoryTokenRefresh, severity: SeverityWarning, code: CodeRefreshInvalid})
		return nil, ErrRefreshInvalid
	}

	sctx, cancel = e.storeCtx(ctx)
	user, err := e.users.GetUserByID(sctx, res.Record.UserID)
	cancel()
	if err != nil || user.Status != AccountActive {
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, storeErr(err)
		}
		// The account is gone or disabled; the fresh successor must not outlive it.
		e.revokeFamily(ctx, res.Record.FamilyID)
		e.metricInc(MetricRefreshInvalid)
		e.emit(ctx, eventInput{
			category: CategoryTokenRevoked,
			severity: SeverityWarning,
			userID:   res.Record.UserID,
			code:     CodeRefreshInvalid,
			detail:   map[string]string{"family_id": res.Record.FamilyID, "reason": "account_inactive"},
		})
		return nil, ErrRefreshInvalid
	}

	result, err := e.mint(user, res.Token, res.Record, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emit(ctx, eventInput{
		category: CategoryTokenRefresh,
		userID:   user.UserID,
		success:  true,
		detail: map[string]string{
			"family_id":   res.Record.FamilyID,
			"predecessor": res.Previous.ID,
		},
	})
	return result, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout revokes the family of the presented refresh token. It is idempotent:
// unknown, revoked and expired tokens are acknowledged. Only undecodable
// input returns ErrRefreshInvalid.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := refresh.RecordID(token); err != nil {
		return ErrRefreshInvalid
	}

	sctx, cancel := e.storeCtx(ctx)
	rec, err := e.refresh.Lookup(sctx, token)
	cancel()
	switch {
	case errors.Is(err, refresh.ErrNotFound):
		return nil
	case errors.Is(err, refresh.ErrMalformedToken):
		return ErrRefreshInvalid
	case err != nil:
		return storeErr(err)
	}

	return e.logoutFamily(ctx, rec.UserID, rec.FamilyID)
}

// LogoutFamily revokes every refresh token of familyID, typically taken from
// a validated access token. Unknown families are acknowledged.
func (e *Engine) LogoutFamily(ctx context.Context, familyID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	familyID = strings.TrimSpace(familyID)
	if familyID == "" {
		return ErrRefreshInvalid
	}
	return e.logoutFamily(ctx, "", familyID)
}

func (e *Engine) logoutFamily(ctx context.Context, userID, familyID string) error {
	sctx, cancel := e.storeCtx(ctx)
	n, err := e.refresh.RevokeFamily(sctx, familyID)
	cancel()
	if err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricLogout)
	e.emit(ctx, eventInput{
		category: CategoryLogout,
		userID:   userID,
		success:  true,
		detail: map[string]string{
			"family_id": familyID,
			"revoked":   fmt.Sprint(n),
		},
	})
	return nil
}

// revokeFamily is the best-effort variant used inside other flows.
func (e *Engine) revokeFamily(ctx context.Context, familyID string) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if _, err := e.refresh.RevokeFamily(sctx, familyID); err != nil {
		e.logger.Warn("family revocation failed",
			slog.String("component", "refresh"),
			slog.String("family_id", familyID),
			slog.Any("error", err),
		)
	}
}

/*
====================================
VALIDATION
====================================
*/

// ValidateAccess verifies an access token without touching any store.
// It returns ErrTokenExpired at or after the expiry instant and
// ErrTokenInvalid for every other failure.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	claims, err := e.tokens.Verify(token, e.now())
	if err != nil {
		return nil, accessErr(err)
	}
	role := Role(claims.Role)
	if !role.Valid() {
		return nil, ErrTokenInvalid
	}

	result := &AuthResult{
		UserID:   claims.Subject,
		Role:     role,
		FamilyID: claims.FamilyID,
		TokenID:  claims.ID,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}
