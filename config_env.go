package authcore

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadConfigFromEnv builds a Config from DefaultConfig overridden by
// environment variables named prefix+KEY, for example AUTH_SECRET_KEY with
// prefix "AUTH_". The result is validated.
//
// Recognized keys: SECRET_KEY, SIGNING_METHOD, ED25519_PRIVATE_KEY,
// ED25519_PUBLIC_KEY (base64), ISSUER, AUDIENCE, ACCESS_TTL, REFRESH_TTL,
// BCRYPT_COST, BCRYPT_WORKERS, PASSWORD_MIN_LENGTH, PASSWORD_BANNED,
// LOCKOUT_ENABLED, LOCKOUT_THRESHOLD, LOCKOUT_DURATION, RATE_ENABLED,
// RATE_LOGIN, RATE_REGISTER, RATE_REFRESH, RATE_READ ("60/1m"),
// SWEEP_INTERVAL, SWEEP_GRACE, SWEEP_BATCH, AUDIT_BUFFER,
// AUDIT_ENQUEUE_WAIT, METRICS_ENABLED, STORE_TIMEOUT.
func LoadConfigFromEnv(prefix string) (Config, error) {
	return loadConfig(envSource{prefix: prefix, lookup: os.LookupEnv})
}

// LoadConfigFromEnvFiles is LoadConfigFromEnv with dotenv files as a fallback
// layer. Process environment variables take precedence over file values and
// the process environment is not modified. Missing files are an error.
func LoadConfigFromEnvFiles(prefix string, files ...string) (Config, error) {
	fileValues, err := godotenv.Read(files...)
	if err != nil {
		return Config{}, fmt.Errorf("read env files: %w", err)
	}
	return loadConfig(envSource{
		prefix: prefix,
		lookup: func(key string) (string, bool) {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
			v, ok := fileValues[key]
			return v, ok
		},
	})
}

func loadConfig(src envSource) (Config, error) {
	cfg := DefaultConfig()
	env := &envParser{src: src}

	// JWT
	cfg.JWT.SigningMethod = strings.ToLower(env.envDefault("SIGNING_METHOD", cfg.JWT.SigningMethod))
	if v := env.envDefault("SECRET_KEY", ""); v != "" {
		cfg.JWT.PrivateKey = []byte(v)
	}
	cfg.JWT.PrivateKey = env.envBase64("ED25519_PRIVATE_KEY", cfg.JWT.PrivateKey)
	cfg.JWT.PublicKey = env.envBase64("ED25519_PUBLIC_KEY", cfg.JWT.PublicKey)
	cfg.JWT.Issuer = env.envDefault("ISSUER", cfg.JWT.Issuer)
	cfg.JWT.Audience = env.envDefault("AUDIENCE", cfg.JWT.Audience)
	cfg.JWT.AccessTTL = env.envDuration("ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.Refresh.TTL = env.envDuration("REFRESH_TTL", cfg.Refresh.TTL)

	// Password
	cfg.Password.Cost = env.envInt("BCRYPT_COST", cfg.Password.Cost)
	cfg.Password.Workers = env.envInt("BCRYPT_WORKERS", cfg.Password.Workers)
	cfg.Password.MinLength = env.envInt("PASSWORD_MIN_LENGTH", cfg.Password.MinLength)
	cfg.Password.Banned = env.envCSV("PASSWORD_BANNED", cfg.Password.Banned)

	// Lockout
	cfg.Lockout.Enabled = env.envBool("LOCKOUT_ENABLED", cfg.Lockout.Enabled)
	cfg.Lockout.Threshold = env.envInt("LOCKOUT_THRESHOLD", cfg.Lockout.Threshold)
	cfg.Lockout.Duration = env.envDuration("LOCKOUT_DURATION", cfg.Lockout.Duration)

	// Rate limits
	cfg.RateLimit.Enabled = env.envBool("RATE_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.Login = env.envRate("RATE_LOGIN", cfg.RateLimit.Login)
	cfg.RateLimit.Register = env.envRate("RATE_REGISTER", cfg.RateLimit.Register)
	cfg.RateLimit.Refresh = env.envRate("RATE_REFRESH", cfg.RateLimit.Refresh)
	cfg.RateLimit.Read = env.envRate("RATE_READ", cfg.RateLimit.Read)

	// Refresh sweeper
	cfg.Refresh.SweepInterval = env.envDuration("SWEEP_INTERVAL", cfg.Refresh.SweepInterval)
	cfg.Refresh.SweepGrace = env.envDuration("SWEEP_GRACE", cfg.Refresh.SweepGrace)
	cfg.Refresh.SweepBatch = env.envInt("SWEEP_BATCH", cfg.Refresh.SweepBatch)

	// Audit, metrics, store
	cfg.Audit.BufferSize = env.envInt("AUDIT_BUFFER", cfg.Audit.BufferSize)
	cfg.Audit.EnqueueWait = env.envDuration("AUDIT_ENQUEUE_WAIT", cfg.Audit.EnqueueWait)
	cfg.Metrics.Enabled = env.envBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Store.OperationTimeout = env.envDuration("STORE_TIMEOUT", cfg.Store.OperationTimeout)

	if env.err != nil {
		return Config{}, env.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type envSource struct {
	prefix string
	lookup func(string) (string, bool)
}

// envParser reads typed values and keeps the first parse error.
type envParser struct {
	src envSource
	err error
}

func (p *envParser) raw(name string) (string, bool) {
	v, ok := p.src.lookup(p.src.prefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *envParser) fail(name string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s%s: %w", p.src.prefix, name, err)
	}
}

func (p *envParser) envDefault(name, fallback string) string {
	if v, ok := p.raw(name); ok {
		return v
	}
	return fallback
}

func (p *envParser) envInt(name string, fallback int) int {
	v, ok := p.raw(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(name, err)
		return fallback
	}
	return n
}

func (p *envParser) envBool(name string, fallback bool) bool {
	v, ok := p.raw(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		p.fail(name, fmt.Errorf("invalid boolean %q", v))
		return fallback
	}
}

func (p *envParser) envDuration(name string, fallback time.Duration) time.Duration {
	v, ok := p.raw(name)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(name, err)
		return fallback
	}
	return d
}

func (p *envParser) envCSV(name string, fallback []string) []string {
	v, ok := p.raw(name)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *envParser) envBase64(name string, fallback []byte) []byte {
	v, ok := p.raw(name)
	if !ok {
		return fallback
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		p.fail(name, err)
		return fallback
	}
	return b
}

func (p *envParser) envRate(name string, fallback RatePolicy) RatePolicy {
	v, ok := p.raw(name)
	if !ok {
		return fallback
	}
	policy, err := ParseRatePolicy(v)
	if err != nil {
		p.fail(name, err)
		return fallback
	}
	return policy
}

// ParseRatePolicy parses "limit/window" strings such as "60/1m" or "10/30s".
func ParseRatePolicy(v string) (RatePolicy, error) {
	limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return RatePolicy{}, fmt.Errorf("rate %q: want limit/window", v)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil || limit < 1 {
		return RatePolicy{}, fmt.Errorf("rate %q: limit must be a positive integer", v)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowStr))
	if err != nil || window <= 0 {
		return RatePolicy{}, fmt.Errorf("rate %q: window must be a positive duration", v)
	}
	return RatePolicy{Limit: limit, Window: window}, nil
}
