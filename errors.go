package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
)

var (
	// ErrInvalidCredentials is returned for unknown identifiers, wrong secrets and disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an identifier is locked out. Transports must render it like ErrInvalidCredentials.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenInvalid is returned for access tokens that fail signature, algorithm or shape checks.
	ErrTokenInvalid = errors.New("access token invalid")
	// ErrTokenExpired is returned for well-formed access tokens past their expiry.
	ErrTokenExpired = errors.New("access token expired")
	// ErrRefreshInvalid is returned for unknown or malformed refresh tokens.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrRefreshExpired is returned for refresh tokens past their expiry. Their family is revoked.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshReused is returned when an already-rotated refresh token is presented. Its family is revoked.
	ErrRefreshReused = errors.New("refresh token reuse detected")
	// ErrAccountExists is returned by Register when the identifier is taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrWeakSecret wraps password policy failures; the policy reasons are joined in.
	ErrWeakSecret = errors.New("secret does not meet policy")
	// ErrUnauthorized is returned when the requester lacks the privileged role.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidRequest is returned for empty or malformed inputs.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStoreUnavailable wraps every storage or limiter backend failure, including timeouts.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUserNotFound is returned by a UserProvider for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrProviderDuplicateIdentifier is returned by a UserProvider when CreateUser races another registration.
	ErrProviderDuplicateIdentifier = errors.New("provider duplicate identifier")
	// ErrEngineNotReady is returned when methods are called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError reports a rejected admission together with the wait before a retry can succeed.
type RateLimitError struct {
	Class      rate.Class
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Class, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockedError reports a lockout. RetryAfter is never shown to unprivileged callers.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked: retry after %s", e.RetryAfter)
}

// Unwrap lets errors.Is match ErrAccountLocked.
func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RetryAfter extracts the retry hint from rate-limit errors. It never reports
// lockout durations.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Public error codes returned by PublicError.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeRateLimited        = "rate_limited"
	CodeTokenInvalid       = "token_invalid"
	CodeTokenExpired       = "token_expired"
	CodeRefreshInvalid     = "refresh_invalid"
	CodeRefreshExpired     = "refresh_expired"
	CodeRefreshReused      = "refresh_reused"
	CodeConflict           = "conflict"
	CodeWeakSecret         = "weak_secret"
	CodeUnauthorized       = "unauthorized"
	CodeInvalidRequest     = "invalid_request"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal_error"
)

// PublicError maps an Engine error to an HTTP status and a stable code.
// Locked accounts are indistinguishable from bad credentials.
func PublicError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked):
		return http.StatusUnauthorized, CodeInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return http.StatusUnauthorized, CodeTokenInvalid
	case errors.Is(err, ErrRefreshReused):
		return http.StatusUnauthorized, CodeRefreshReused
	case errors.Is(err, ErrRefreshExpired):
		return http.StatusUnauthorized, CodeRefreshExpired
	case errors.Is(err, ErrRefreshInvalid):
		return http.StatusUnauthorized, CodeRefreshInvalid
	case errors.Is(err, ErrAccountExists):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, ErrWeakSecret):
		return http.StatusUnprocessableEntity, CodeWeakSecret
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, CodeUnauthorized
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// storeErr normalizes backend failures from subpackages, timeouts included,
// to ErrStoreUnavailable without exposing the cause to callers.
func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func accessErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

func weakSecret(err error) error {
	return fmt.Errorf("%w: %w", ErrWeakSecret, err)
}
