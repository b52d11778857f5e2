package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/httpserver"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
)

func main() {
	if err := run(); err != nil {
		slog.Error("authcore-server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	s := loadSettings()
	logger := logging.New(s.LogLevel)
	slog.SetDefault(logger)

	if s.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              s.SentryDSN,
			Environment:      s.SentryEnv,
			AttachStacktrace: true,
		}); err != nil {
			return err
		}
		defer sentry.Flush(2 * time.Second)
	}

	cfg, err := authcore.LoadConfigFromEnv("AUTH_")
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := openDB(s)
	if err != nil {
		return err
	}
	users := stores.NewUserStore(db)
	if err := users.Migrate(initCtx); err != nil {
		return err
	}

	rdb, err := openRedis(initCtx, s)
	if err != nil {
		return err
	}

	store, sinks, closers, err := wireEventLog(initCtx, s, db, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	builder := authcore.New().
		WithConfig(cfg).
		WithUserProvider(users).
		WithEventStore(store).
		WithEventSinks(sinks...).
		WithLogger(logger).
		WithLatencyHistograms(true)

	var ready func(c echo.Context) error
	if rdb != nil {
		defer rdb.Close()
		builder = builder.WithRedis(rdb)
		ready = func(c echo.Context) error { return rdb.Ping(c.Request().Context()).Err() }
	} else {
		registry := refresh.NewGormRegistry(db)
		if err := registry.Migrate(initCtx); err != nil {
			return err
		}
		builder = builder.WithRefreshRegistry(registry)
		ready = func(c echo.Context) error { return registry.Ping(c.Request().Context()) }
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := bootstrapAdmin(initCtx, s, engine, users, logger); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	trust, err := middleware.NewProxyTrust(s.TrustedProxies...)
	if err != nil {
		return err
	}
	httpserver.Register(e, &httpserver.Deps{
		Engine:         engine,
		Logger:         logger,
		Ready:          ready,
		TrustedProxies: trust.Ranges(),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", s.Addr))
		if err := e.Start(s.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return e.Shutdown(shutdownCtx)
}

