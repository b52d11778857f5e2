package authcore

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	internalmetrics "github.com/MrEthical07/authcore/internal/metrics"
)

// Role is the authorization level carried in access tokens.
type Role string

const (
	// RoleOrdinary is assigned to every self-registered account.
	RoleOrdinary Role = "ordinary"
	// RolePrivileged may call the administrative Engine operations.
	RolePrivileged Role = "privileged"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOrdinary || r == RolePrivileged
}

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive accounts may log in.
	AccountActive AccountStatus = iota
	// AccountDisabled accounts are rejected at login as invalid credentials.
	AccountDisabled
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// UserRecord is the account record returned by [UserProvider].
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Role         Role
	Status       AccountStatus
	CreatedAt    time.Time
}

// CreateUserInput is the input for [UserProvider.CreateUser].
type CreateUserInput struct {
	Identifier   string
	PasswordHash string
	Role         Role
	Status       AccountStatus
}

// UserProvider is the account store the Engine authenticates against.
// GetUserByIdentifier and GetUserByID return ErrUserNotFound for unknown
// accounts; CreateUser returns ErrProviderDuplicateIdentifier when the
// identifier is already taken.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// AccountStatusSetter is implemented by providers that can enable and
// disable accounts. [Engine.DisableAccount] and [Engine.EnableAccount]
// require it.
type AccountStatusSetter interface {
	SetStatus(ctx context.Context, userID string, status AccountStatus) error
}

// LoginResult is returned by [Engine.Login] and [Engine.Refresh].
type LoginResult struct {
	UserID           string
	Role             Role
	FamilyID         string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuthResult is returned by [Engine.ValidateAccess].
type AuthResult struct {
	UserID    string
	Role      Role
	FamilyID  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Privileged reports whether the caller holds RolePrivileged.
func (a *AuthResult) Privileged() bool {
	return a != nil && a.Role == RolePrivileged
}

// ActiveToken describes one live refresh token. It never carries the secret.
type ActiveToken struct {
	TokenID    string
	FamilyID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	IP         string
	UserAgent  string
}

// LockoutInfo is the privileged view of an identifier's lockout state.
type LockoutInfo struct {
	Identifier string
	State      string
	Failures   int
	RetryAfter time.Duration
}

// CleanupResult is returned by [Engine.CleanupTokens].
type CleanupResult struct {
	Removed int
	Cutoff  time.Time
}

// EventStats counts security events in a window by category and severity.
type EventStats struct {
	Since      time.Time
	Until      time.Time
	Total      int
	ByCategory map[EventCategory]int
	BySeverity map[Severity]int
}

// HealthStatus summarizes recent security activity.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// SecurityHealthReport is returned by [Engine.SecurityHealth].
type SecurityHealthReport struct {
	Status           HealthStatus
	CheckedAt        time.Time
	ErrorEvents      int
	AuthFailures     int
	LockedAccounts   int
	DroppedEvents    uint64
	FailedDeliveries uint64
}

// SecurityEvent is a structured security record emitted by the engine.
type SecurityEvent = internalaudit.Event

// EventCategory classifies a [SecurityEvent].
type EventCategory = internalaudit.Category

// Severity ranks a [SecurityEvent].
type Severity = internalaudit.Severity

// EventFilter selects events for [Engine.ListSecurityEvents].
type EventFilter = internalaudit.Filter

// EventSink receives events from the engine's dispatcher.
type EventSink = internalaudit.Sink

// EventStore is an [EventSink] that can also be queried.
type EventStore = internalaudit.Store

const (
	CategoryAuthSuccess    = internalaudit.CategoryAuthSuccess
	CategoryAuthFailure    = internalaudit.CategoryAuthFailure
	CategoryLockout        = internalaudit.CategoryLockout
	CategoryTokenRefresh   = internalaudit.CategoryTokenRefresh
	CategoryTokenRevoked   = internalaudit.CategoryTokenRevoked
	CategoryRateLimited    = internalaudit.CategoryRateLimited
	CategoryRegistration   = internalaudit.CategoryRegistration
	CategoryPasswordChange = internalaudit.CategoryPasswordChange
	CategoryLogout         = internalaudit.CategoryLogout
	CategoryTokenCleanup   = internalaudit.CategoryTokenCleanup

	SeverityInfo     = internalaudit.SeverityInfo
	SeverityWarning  = internalaudit.SeverityWarning
	SeverityError    = internalaudit.SeverityError
	SeverityCritical = internalaudit.SeverityCritical
)

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

// Metrics is the engine's in-process counter set.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess      = internalmetrics.LoginSuccess
	MetricLoginFailure      = internalmetrics.LoginFailure
	MetricLoginLocked       = internalmetrics.LoginLocked
	MetricLoginRateLimited  = internalmetrics.LoginRateLimited
	MetricRegisterSuccess   = internalmetrics.RegisterSuccess
	MetricRegisterConflict  = internalmetrics.RegisterConflict
	MetricRefreshSuccess    = internalmetrics.RefreshSuccess
	MetricRefreshReuse      = internalmetrics.RefreshReuse
	MetricRefreshExpired    = internalmetrics.RefreshExpired
	MetricRefreshInvalid    = internalmetrics.RefreshInvalid
	MetricRateLimited       = internalmetrics.RateLimited
	MetricLogout            = internalmetrics.Logout
	MetricPasswordChange    = internalmetrics.PasswordChange
	MetricLockoutTriggered  = internalmetrics.LockoutTriggered
	MetricAuditDropped      = internalmetrics.AuditDropped
	MetricValidateLatency   = internalmetrics.ValidateLatency
	MetricTokensCleanedUp   = internalmetrics.TokensCleanedUp
	MetricUnauthorizedAdmin = internalmetrics.UnauthorizedAdmin
)

// NewMetrics creates a counter set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(cfg.Enabled, cfg.EnableLatencyHistograms)
}
