package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/coopLoan/pkg/cache"
	"github.com/mcclellann/coopLoan/pkg/config"
	"github.com/mcclellann/coopLoan/pkg/ledger"
	"github.com/mcclellann/coopLoan/pkg/logger"
	"github.com/mcclellann/coopLoan/pkg/store"
	"go.uber.org/zap"
)

func openStorage(cfg config.StorageConfig) (store.Storage, error) {
	if cfg.Driver == "sqlite" {
		return store.NewSQLiteStore(cfg.Path)
	}
	return store.NewMemoryStore(), nil
}

// openQuoteCache prefers Redis and falls back to an in-process cache when
// Redis is disabled or unreachable.
func openQuoteCache(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (cache.Cache, func()) {
	if cfg.Enabled {
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTL:      cfg.TTL(),
		}, log)
		if err == nil {
			return rc, func() { rc.Close() }
		}
		log.Warn("redis unavailable, caching quotes in memory", zap.Error(err))
	}
	return cache.NewMemoryCache(cfg.TTL()), func() {}
}

func run() error {
	cfg, err := config.LoadFromConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.Storage.Driver, err)
	}
	defer storage.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	quotes, closeCache := openQuoteCache(ctx, cfg.Redis, log)
	cancel()
	defer closeCache()

	l := ledger.NewLedger(storage, cfg.Policy(),
		ledger.WithLogger(log),
		ledger.WithQuoteCache(quotes),
	)
	server := NewServer(l, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", httpServer.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
