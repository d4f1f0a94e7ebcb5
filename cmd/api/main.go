package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/helia-care/walletd/internal/config"
	"github.com/helia-care/walletd/internal/holds"
	"github.com/helia-care/walletd/internal/infra"
	"github.com/helia-care/walletd/internal/ledger"
	"github.com/helia-care/walletd/internal/logging"
	"github.com/helia-care/walletd/internal/notification"
	"github.com/helia-care/walletd/internal/query"
	"github.com/helia-care/walletd/internal/routes"
	"github.com/helia-care/walletd/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pool  *pgxpool.Pool
		cache *redis.Client
		store ledger.Store
	)

	if cfg.DatabaseURL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err = infra.NewPostgresPool(initCtx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		cancel()
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()

		pg := ledger.NewPostgresStore(pool)
		migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = pg.Migrate(migCtx)
		cancel()
		if err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger store")
		store = ledger.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		cache, err = infra.NewRedisClient(initCtx, cfg.RedisURL, cfg.RedisPoolSize)
		cancel()
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer cache.Close()
	} else {
		logger.Warn("REDIS_URL not set, idempotency and rate limiting disabled")
	}

	notifier := notification.NewLoggerNotifier(logger)
	engine := ledger.NewEngine(store, logger)
	manager := holds.NewManager(engine, notifier, logger, cfg.HoldTTL)
	queries := query.NewService(store)

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       pool,
		Cache:    cache,
		Logger:   logger,
		Engine:   engine,
		Holds:    manager,
		Query:    queries,
		Notifier: notifier,
	})
	if err != nil {
		logger.Error("setup server", slog.Any("error", err))
		os.Exit(1)
	}

	go manager.Run(ctx, cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("env", cfg.AppEnv),
			slog.String("addr", cfg.Address()),
		)
		errCh <- srv.Listen()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}
