package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Class names a logical endpoint group with its own policy.
type Class string

const (
	ClassLogin    Class = "login"
	ClassRegister Class = "register"
	ClassRefresh  Class = "refresh"
	ClassRead     Class = "read"
)

// Policy bounds a class to Limit requests per rolling Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Config maps endpoint classes to policies. Classes without a policy are not limited.
type Config struct {
	Enabled  bool
	Policies map[Class]Policy
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	for class, p := range c.Policies {
		if p.Limit < 1 {
			return fmt.Errorf("rate policy %q: limit must be >= 1", class)
		}
		if p.Window < time.Millisecond {
			return fmt.Errorf("rate policy %q: window must be >= 1ms", class)
		}
	}
	return nil
}

func (c Config) policy(class Class) (Policy, bool) {
	if !c.Enabled {
		return Policy{}, false
	}
	p, ok := c.Policies[class]
	return p, ok
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Err returns ErrRateLimited for rejected decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}

// Admitter is the contract shared by every limiter backend.
type Admitter interface {
	Admit(ctx context.Context, class Class, key string, now time.Time) (Decision, error)
}

// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)

local count = redis.call("ZCARD", KEYS[1])
if count <= limit then
  return {1, limit - count, 0}
end

local entry = redis.call("ZRANGE", KEYS[1], count - limit, count - limit, "WITHSCORES")
local retry = tonumber(entry[2]) + window - now
return {0, 0, retry}
`)

// Limiter enforces sliding-window limits in Redis. Each admission is one Lua
// script, so concurrent requests for the same key are counted exactly.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Admit records one request for key under class and decides whether it is admitted.
func (l *Limiter) Admit(ctx context.Context, class Class, key string, now time.Time) (Decision, error) {
	p, ok := l.config.policy(class)
	if !ok || key == "" {
		return Decision{Allowed: true}, nil
	}

	member := strconv.FormatInt(now.UnixMilli(), 10) + ":" + uuid.NewString()
	res, err := slidingWindowScript.Run(ctx, l.redis,
		[]string{windowKey(class, key)},
		now.UnixMilli(), p.Window.Milliseconds(), p.Limit, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	d := Decision{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
	}
	if !d.Allowed {
		d.RetryAfter = clampRetry(time.Duration(res[2])*time.Millisecond, p.Window)
	}
	return d, nil
}

// Reset drops the window for key under class.
func (l *Limiter) Reset(ctx context.Context, class Class, key string) error {
	if err := l.redis.Del(ctx, windowKey(class, key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func windowKey(class Class, key string) string {
	return "rl:" + string(class) + ":" + key
}

func clampRetry(d, window time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	if d > window {
		return window
	}
	return d
}
