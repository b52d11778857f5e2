package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the automatic account lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// Validate reports configuration errors.
func (c LockoutConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if c.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	return nil
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// State is a position in the lockout state machine.
type State int

const (
	StateOpen State = iota
	StateWarning
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateWarning:
		return "warning"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Status is the observable state of one identity.
type Status struct {
	State      State
	Failures   int
	RetryAfter time.Duration
}

// Locked reports whether the identity is currently rejected.
func (s Status) Locked() bool {
	return s.State == StateLocked
}

// Tracker is the contract shared by every lockout backend.
type Tracker interface {
	Check(ctx context.Context, id string, now time.Time) (Status, error)
	RecordFailure(ctx context.Context, id string, now time.Time) (Status, error)
	Reset(ctx context.Context, id string) error
	LockedCount(ctx context.Context, now time.Time) (int, error)
}

// Per-identity records and the locked index live in disjoint namespaces so
// no identifier can name the index key.
const (
	identityKeyPrefix = "alo:u:"
	lockedIndexKey    = "alo:idx:locked"
)

// Both scripts return {state, failures, retry_after_ms}.
var lockoutCheckScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local until_ms = tonumber(redis.call("HGET", KEYS[1], "until") or "0")
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")

if until_ms > 0 then
  if now < until_ms then
    return {2, count, until_ms - now}
  end
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[2])
  return {0, 0, 0}
end

if count > 0 then
  return {1, count, 0}
end
return {0, 0, 0}
`)

var lockoutFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local duration = tonumber(ARGV[3])
local until_ms = tonumber(redis.call("HGET", KEYS[1], "until") or "0")

if until_ms > 0 then
  if now < until_ms then
    local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
    return {2, count, until_ms - now}
  end
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[4])
end

local count = redis.call("HINCRBY", KEYS[1], "count", 1)
if count >= threshold then
  local locked_until = now + duration
  redis.call("HSET", KEYS[1], "until", locked_until)
  redis.call("PEXPIRE", KEYS[1], duration)
  redis.call("ZADD", KEYS[2], locked_until, ARGV[4])
  return {2, count, duration}
end

redis.call("PEXPIRE", KEYS[1], duration)
return {1, count, 0}
`)

// LockoutLimiter tracks failed login attempts in Redis and locks an identity
// when the configured threshold is reached.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new Redis-backed lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) key(id string) string {
	return identityKeyPrefix + id
}

// Check reports the current state without counting an attempt.
func (l *LockoutLimiter) Check(ctx context.Context, id string, now time.Time) (Status, error) {
	if l == nil || !l.config.Enabled || id == "" {
		return Status{}, nil
	}

	res, err := lockoutCheckScript.Run(ctx, l.redis,
		[]string{l.key(id), lockedIndexKey},
		now.UnixMilli(), id,
	).Int64Slice()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return statusFromScript(res)
}

// RecordFailure counts one failed attempt and returns the resulting state.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, id string, now time.Time) (Status, error) {
	if l == nil || !l.config.Enabled || id == "" {
		return Status{}, nil
	}

	res, err := lockoutFailureScript.Run(ctx, l.redis,
		[]string{l.key(id), lockedIndexKey},
		now.UnixMilli(), l.config.Threshold, l.config.Duration.Milliseconds(), id,
	).Int64Slice()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return statusFromScript(res)
}

// Reset clears the failure counter (after a successful login or a manual unlock).
func (l *LockoutLimiter) Reset(ctx context.Context, id string) error {
	if l == nil || !l.config.Enabled || id == "" {
		return nil
	}

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.key(id))
		pipe.ZRem(ctx, lockedIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// LockedCount returns the number of identities whose lock has not yet expired.
func (l *LockoutLimiter) LockedCount(ctx context.Context, now time.Time) (int, error) {
	if l == nil || !l.config.Enabled {
		return 0, nil
	}

	nowMs := strconv.FormatInt(now.UnixMilli(), 10)
	if err := l.redis.ZRemRangeByScore(ctx, lockedIndexKey, "-inf", nowMs).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	n, err := l.redis.ZCount(ctx, lockedIndexKey, "("+nowMs, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(n), nil
}

func statusFromScript(res []int64) (Status, error) {
	if len(res) != 3 {
		return Status{}, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}
	return Status{
		State:      State(res[0]),
		Failures:   int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
