package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/password"
)

var errSecretUnchanged = &password.PolicyError{Reasons: []string{"new secret must differ from the current one"}}

// Register describes the register operation and its observable behavior.
//
// Register admits the request against the register rate limit, checks the
// secret against the configured policy and creates an ordinary, active
// account. It returns ErrAccountExists when the identifier is taken and an
// error matching ErrWeakSecret, carrying the policy reasons, for weak secrets.
func (e *Engine) Register(ctx context.Context, identifier, secret string) (UserRecord, error) {
	if e == nil {
		return UserRecord{}, ErrEngineNotReady
	}
	identifier = strings.TrimSpace(identifier)

	if err := e.admit(ctx, rate.ClassRegister, identifier); err != nil {
		return UserRecord{}, err
	}
	if identifier == "" {
		return UserRecord{}, ErrInvalidRequest
	}
	if err := e.policy.Check(secret); err != nil {
		err = weakSecret(err)
		e.registrationFailed(ctx, identifier, err)
		return UserRecord{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	_, err := e.users.GetUserByIdentifier(sctx, identifier)
	cancel()
	switch {
	case err == nil:
		e.registrationFailed(ctx, identifier, ErrAccountExists)
		return UserRecord{}, ErrAccountExists
	case !errors.Is(err, ErrUserNotFound):
		return UserRecord{}, storeErr(err)
	}

	hash, err := e.hasher.Hash(ctx, secret)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return UserRecord{}, weakSecret(err)
		}
		return UserRecord{}, storeErr(err)
	}

	sctx, cancel = e.storeCtx(ctx)
	user, err := e.users.CreateUser(sctx, CreateUserInput{
		Identifier:   identifier,
		PasswordHash: hash,
		Role:         RoleOrdinary,
		Status:       AccountActive,
	})
	cancel()
	switch {
	case errors.Is(err, ErrProviderDuplicateIdentifier):
		e.registrationFailed(ctx, identifier, ErrAccountExists)
		return UserRecord{}, ErrAccountExists
	case err != nil:
		return UserRecord{}, storeErr(err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emit(ctx, eventInput{
		category:   CategoryRegistration,
		userID:     user.UserID,
		identifier: identifier,
		success:    true,
	})
	user.PasswordHash = ""
	return user, nil
}

func (e *Engine) registrationFailed(ctx context.Context, identifier string, err error) {
	if errors.Is(err, ErrAccountExists) {
		e.metricInc(MetricRegisterConflict)
	}
	e.emit(ctx, eventInput{
		category:   CategoryRegistration,
		severity:   SeverityWarning,
		identifier: identifier,
		code:       auditErrorCode(err),
	})
}

// ChangePassword describes the change password operation and its observable behavior.
//
// ChangePassword re-verifies current, applies the policy to next, stores the
// new hash and revokes every refresh family of the user so all other
// sessions must log in again. A wrong current secret returns
// ErrInvalidCredentials and counts towards the identifier's lockout.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidRequest
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.users.GetUserByID(sctx, userID)
	cancel()
	switch {
	case errors.Is(err, ErrUserNotFound):
		e.hasher.Dummy(ctx, current)
		return ErrInvalidCredentials
	case err != nil:
		return storeErr(err)
	}

	sctx, cancel = e.storeCtx(ctx)
	status, err := e.lockout.Check(sctx, user.Identifier, e.now())
	cancel()
	if err != nil {
		return storeErr(err)
	}
	if status.Locked() {
		e.hasher.Dummy(ctx, current)
		return &LockedError{RetryAfter: status.RetryAfter}
	}

	if !e.hasher.Verify(ctx, current, user.PasswordHash) {
		status := e.recordFailure(ctx, user.Identifier, user.UserID)
		e.emit(ctx, eventInput{
			category:   CategoryPasswordChange,
			severity:   SeverityWarning,
			userID:     user.UserID,
			identifier: user.Identifier,
			code:       CodeInvalidCredentials,
			detail:     map[string]string{"failures": fmt.Sprint(status.Failures)},
		})
		return ErrInvalidCredentials
	}

	if err := e.policy.Check(next); err != nil {
		return weakSecret(err)
	}
	if next == current {
		return weakSecret(errSecretUnchanged)
	}

	hash, err := e.hasher.Hash(ctx, next)
	if err != nil {
		return storeErr(err)
	}

	sctx, cancel = e.storeCtx(ctx)
	err = e.users.UpdatePasswordHash(sctx, user.UserID, hash)
	cancel()
	if err != nil {
		return storeErr(err)
	}

	sctx, cancel = e.storeCtx(ctx)
	revoked, err := e.refresh.RevokeUser(sctx, user.UserID)
	cancel()
	if err != nil {
		// The new hash is stored; report the outage so the caller can retry.
		e.logger.Error("session revocation after password change failed",
			slog.String("component", "refresh"),
			slog.String("user_id", user.UserID),
			slog.Any("error", err),
		)
		return storeErr(err)
	}

	e.metricInc(MetricPasswordChange)
	e.emit(ctx, eventInput{
		category:   CategoryPasswordChange,
		userID:     user.UserID,
		identifier: user.Identifier,
		success:    true,
		detail:     map[string]string{"revoked": fmt.Sprint(revoked)},
	})
	return nil
}
