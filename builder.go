package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/eventlog"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Builder instances are configured during
// initialization and can build exactly one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	registry     refresh.Registry
	eventStore   EventStore
	eventSinks   []EventSink

	logger *slog.Logger
	clock  func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a Builder seeded with DefaultConfig. A signing key, a
// UserProvider and either a Redis client or a refresh registry must be
// supplied before Build.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs lockout, rate limiting and (unless WithRefreshRegistry is
// used) refresh tokens with Redis, so state is shared across instances.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithRefreshRegistry overrides the refresh token backend, for example with
// refresh.NewGormRegistry.
func (b *Builder) WithRefreshRegistry(reg refresh.Registry) *Builder {
	b.registry = reg
	return b
}

// WithEventStore sets the queryable security event store. Without it events
// are kept in a bounded in-process ring.
func (b *Builder) WithEventStore(store EventStore) *Builder {
	b.eventStore = store
	return b
}

// WithEventSinks adds write-only destinations (Kafka, JSON logs) that receive
// every event next to the store.
func (b *Builder) WithEventSinks(sinks ...EventSink) *Builder {
	b.eventSinks = append(b.eventSinks, sinks...)
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration, wires every component and starts the
// event dispatcher and, when configured, the refresh sweeper. The Builder
// cannot be reused afterwards.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.redis == nil && b.registry == nil {
		return nil, errors.New("redis client or refresh registry required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewBcrypt(password.Config{
		Cost:    cfg.Password.Cost,
		Workers: cfg.Password.Workers,
		Timeout: cfg.Password.Timeout,
	})
	if err != nil {
		return nil, err
	}

	// -------- ACCESS TOKENS --------
	tokens, err := jwt.NewManager(cfg.jwtConfig())
	if err != nil {
		return nil, err
	}

	// -------- LIMITERS --------
	var (
		lockout limiters.Tracker
		limiter rate.Admitter
	)
	if b.redis != nil {
		lockout = limiters.NewLockoutLimiter(b.redis, cfg.lockoutConfig())
		limiter = rate.New(b.redis, cfg.rateConfig())
	} else {
		logger.Warn("no redis client configured; lockout and rate limits are per-process",
			slog.String("component", "builder"),
		)
		lockout = limiters.NewMemoryLockout(cfg.lockoutConfig())
		limiter = rate.NewMemory(cfg.rateConfig())
	}

	// -------- REFRESH TOKENS --------
	registry := b.registry
	if registry == nil {
		registry = refresh.NewRedisRegistry(b.redis)
	}
	sweeper := refresh.NewSweeper(registry, refresh.SweeperConfig{
		Interval: cfg.Refresh.SweepInterval,
		Grace:    cfg.Refresh.SweepGrace,
		Batch:    cfg.Refresh.SweepBatch,
	}, logger.With(slog.String("component", "refresh_sweeper")), now)

	// -------- SECURITY EVENTS --------
	store := b.eventStore
	if store == nil {
		store = eventlog.NewMemoryStore(cfg.Audit.MemoryCapacity)
	}
	var sink EventSink = store
	if len(b.eventSinks) > 0 {
		sink = append(eventlog.MultiSink{store}, b.eventSinks...)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		EnqueueWait: cfg.Audit.EnqueueWait,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, sink, logger)

	e := &Engine{
		config:  cfg,
		users:   b.userProvider,
		hasher:  hasher,
		policy:  cfg.passwordPolicy(),
		tokens:  tokens,
		refresh: registry,
		sweeper: sweeper,
		lockout: lockout,
		limiter: limiter,
		events:  store,
		audit:   dispatcher,
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		now:     now,
	}

	if cfg.Refresh.SweepInterval > 0 {
		sweeper.Start(context.Background())
	}

	b.built = true
	return e, nil
}
