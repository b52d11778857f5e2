package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/eventlog"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(s settings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch s.DBDriver {
	case "postgres":
		dialector = postgres.Open(s.DBDSN)
	case "sqlite":
		dialector = sqlite.Open(s.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported AUTH_DB_DRIVER %q", s.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.DBDriver, err)
	}
	if s.DBDriver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func openRedis(ctx context.Context, s settings) (*redis.Client, error) {
	if s.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func openElastic(s settings) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{s.ElasticURL},
		Username:  s.ElasticUser,
		Password:  s.ElasticPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch info: %s: %s", res.Status(), body)
	}
	return client, nil
}

// wireEventLog picks the queryable event store and the forward-only sinks.
// Elasticsearch wins over SQL when ES_URL is set; Kafka is an extra sink.
func wireEventLog(ctx context.Context, s settings, db *gorm.DB, logger *slog.Logger) (authcore.EventStore, []authcore.EventSink, []io.Closer, error) {
	var (
		store   authcore.EventStore
		sinks   []authcore.EventSink
		closers []io.Closer
	)

	if s.ElasticURL != "" {
		client, err := openElastic(s)
		if err != nil {
			return nil, nil, nil, err
		}
		es := eventlog.NewElasticStore(client, s.ElasticIndex)
		if err := es.EnsureIndex(ctx); err != nil {
			return nil, nil, nil, err
		}
		store = es
		logger.Info("security events stored in elasticsearch", slog.String("index", s.ElasticIndex))
	} else {
		gs := eventlog.NewGormStore(db)
		if err := gs.Migrate(ctx); err != nil {
			return nil, nil, nil, err
		}
		store = gs
	}

	if len(s.KafkaBrokers) > 0 {
		ks := eventlog.NewKafkaSink(s.KafkaBrokers, s.KafkaTopic, authcore.Severity(s.KafkaSeverity), logger)
		sinks = append(sinks, ks)
		closers = append(closers, ks)
		logger.Info("security events forwarded to kafka", slog.String("topic", s.KafkaTopic))
	}

	return store, sinks, closers, nil
}

// bootstrapAdmin makes sure the configured administrator exists and holds
// the privileged role.
func bootstrapAdmin(ctx context.Context, s settings, engine *authcore.Engine, users *stores.UserStore, logger *slog.Logger) error {
	if s.AdminIdentifier == "" {
		return nil
	}

	user, err := users.GetUserByIdentifier(ctx, s.AdminIdentifier)
	if errors.Is(err, authcore.ErrUserNotFound) {
		if s.AdminSecret == "" {
			return errors.New("AUTH_BOOTSTRAP_ADMIN_SECRET required to create the bootstrap admin")
		}
		user, err = engine.Register(ctx, s.AdminIdentifier, s.AdminSecret)
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	if user.Role == authcore.RolePrivileged {
		return nil
	}
	if err := users.SetRole(ctx, user.UserID, authcore.RolePrivileged); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info("bootstrap admin promoted", slog.String("user_id", user.UserID))
	return nil
}
