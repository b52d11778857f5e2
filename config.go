package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"golang.org/x/crypto/bcrypt"
)

// Config is the complete Engine configuration. It is cloned at Build and
// treated as immutable afterwards.
type Config struct {
	JWT       JWTConfig
	Password  PasswordConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	Refresh   RefreshConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Store     StoreConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures bcrypt hashing and the strength policy.
type PasswordConfig struct {
	Cost           int
	Workers        int
	Timeout        time.Duration
	UpgradeOnLogin bool

	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	Banned         []string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures per-identifier account lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is a sliding-window limit: Limit requests per Window.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig configures the per-class sliding-window limits.
type RateLimitConfig struct {
	Enabled  bool
	Login    RatePolicy
	Register RatePolicy
	Refresh  RatePolicy
	Read     RatePolicy
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures refresh token lifetime and background cleanup.
type RefreshConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration // 0 disables the background sweeper
	SweepGrace    time.Duration
	SweepBatch    int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the asynchronous security event dispatcher.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	// EnqueueWait lets Emit wait briefly for queue space before dropping.
	// It is capped at 50ms so auth flows never block on slow storage.
	EnqueueWait time.Duration
	SinkTimeout time.Duration
	// MemoryCapacity sizes the in-process event store used when no
	// EventStore is supplied to the Builder.
	MemoryCapacity int
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds every call into a storage backend.
type StoreConfig struct {
	OperationTimeout time.Duration
}

/*
====================================
DEFAULTS
====================================
*/

func defaultConfig() Config {
	policy := password.DefaultPolicy()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			SigningMethod: string(jwt.MethodHS256),
		},
		Password: PasswordConfig{
			Cost:           12,
			Timeout:        5 * time.Second,
			UpgradeOnLogin: true,
			MinLength:      policy.MinLength,
			MaxLength:      policy.MaxLength,
			RequireUpper:   policy.RequireUpper,
			RequireLower:   policy.RequireLower,
			RequireDigit:   policy.RequireDigit,
			RequireSpecial: policy.RequireSpecial,
			Banned:         policy.Banned,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Login:    RatePolicy{Limit: 60, Window: time.Minute},
			Register: RatePolicy{Limit: 10, Window: time.Minute},
			Refresh:  RatePolicy{Limit: 30, Window: time.Minute},
			Read:     RatePolicy{Limit: 120, Window: time.Minute},
		},
		Refresh: RefreshConfig{
			TTL:           7 * 24 * time.Hour,
			SweepInterval: 10 * time.Minute,
			SweepGrace:    24 * time.Hour,
			SweepBatch:    500,
		},
		Audit: AuditConfig{
			Enabled:        true,
			BufferSize:     1024,
			SinkTimeout:    2 * time.Second,
			MemoryCapacity: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Store: StoreConfig{
			OperationTimeout: 3 * time.Second,
		},
	}
}

// DefaultConfig returns the production baseline. Callers must still supply
// a signing key.
func DefaultConfig() Config {
	return defaultConfig()
}

// HighSecurityConfig tightens lockout, rate limits and token lifetimes and
// raises the minimum secret length to 12.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.AccessTTL = 10 * time.Minute
	cfg.Password.Cost = 13
	cfg.Password.MinLength = 12
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Duration = time.Hour
	cfg.RateLimit.Login = RatePolicy{Limit: 20, Window: time.Minute}
	cfg.RateLimit.Register = RatePolicy{Limit: 5, Window: time.Minute}
	cfg.Refresh.TTL = 24 * time.Hour
	cfg.Audit.EnqueueWait = 10 * time.Millisecond
	return cfg
}

// TestConfig returns a fast configuration for tests: minimum bcrypt cost and
// a fixed HS256 key. Never use it in production.
func TestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.PrivateKey = []byte("authcore-test-signing-key-000000000000")
	cfg.Password.Cost = bcrypt.MinCost
	cfg.Refresh.SweepInterval = 0
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Password.Banned != nil {
		out.Password.Banned = append([]string(nil), cfg.Password.Banned...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Password
	if c.Password.Cost < bcrypt.MinCost || c.Password.Cost > bcrypt.MaxCost {
		return fmt.Errorf("Password Cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Password.Workers < 0 {
		return errors.New("Password Workers must be >= 0")
	}
	if c.Password.Timeout < 0 {
		return errors.New("Password Timeout must be >= 0")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength || c.Password.MaxLength > password.MaxInputBytes {
		return fmt.Errorf("Password MaxLength must be between MinLength and %d", password.MaxInputBytes)
	}

	// Lockout
	if err := c.lockoutConfig().Validate(); err != nil {
		return err
	}

	// Rate limits
	if err := c.rateConfig().Validate(); err != nil {
		return err
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= time.Second {
		return errors.New("Refresh TTL must exceed 1s so access tokens have a positive lifetime")
	}
	if c.Refresh.SweepInterval < 0 || c.Refresh.SweepGrace < 0 {
		return errors.New("Refresh SweepInterval and SweepGrace must be >= 0")
	}
	if c.Refresh.SweepInterval > 0 && c.Refresh.SweepBatch <= 0 {
		return errors.New("Refresh SweepBatch must be > 0 when the sweeper is enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.EnqueueWait < 0 || c.Audit.EnqueueWait > internalaudit.MaxEnqueueWait {
		return fmt.Errorf("Audit EnqueueWait must be between 0 and %s", internalaudit.MaxEnqueueWait)
	}
	if c.Audit.MemoryCapacity < 0 {
		return errors.New("Audit MemoryCapacity must be >= 0")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}
	return nil
}

func (c *Config) passwordPolicy() password.Policy {
	return password.Policy{
		MinLength:      c.Password.MinLength,
		MaxLength:      c.Password.MaxLength,
		RequireUpper:   c.Password.RequireUpper,
		RequireLower:   c.Password.RequireLower,
		RequireDigit:   c.Password.RequireDigit,
		RequireSpecial: c.Password.RequireSpecial,
		Banned:         c.Password.Banned,
	}
}

func (c *Config) lockoutConfig() limiters.LockoutConfig {
	return limiters.LockoutConfig{
		Enabled:   c.Lockout.Enabled,
		Threshold: c.Lockout.Threshold,
		Duration:  c.Lockout.Duration,
	}
}

func (c *Config) rateConfig() rate.Config {
	out := rate.Config{Enabled: c.RateLimit.Enabled, Policies: map[rate.Class]rate.Policy{}}
	for class, p := range map[rate.Class]RatePolicy{
		rate.ClassLogin:    c.RateLimit.Login,
		rate.ClassRegister: c.RateLimit.Register,
		rate.ClassRefresh:  c.RateLimit.Refresh,
		rate.ClassRead:     c.RateLimit.Read,
	} {
		if p.Limit == 0 && p.Window == 0 {
			continue
		}
		out.Policies[class] = rate.Policy{Limit: p.Limit, Window: p.Window}
	}
	return out
}

func (c *Config) jwtConfig() jwt.Config {
	return jwt.Config{
		AccessTTL:     c.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)),
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		KeyID:         c.JWT.KeyID,
	}
}
