// Package main is the entrypoint for the Nimbase gate server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbase/gate/internal/api"
	mw "github.com/nimbase/gate/internal/api/middleware"
	"github.com/nimbase/gate/internal/audit"
	"github.com/nimbase/gate/internal/cache"
	"github.com/nimbase/gate/internal/config"
	"github.com/nimbase/gate/internal/gate"
	"github.com/nimbase/gate/internal/idempotency"
	"github.com/nimbase/gate/internal/metering"
	"github.com/nimbase/gate/internal/session"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/internal/task"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "sample_rate", cfg.Metering.SampleRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and detached-task runner
	pgStore := store.NewPostgresStore(pool)

	runner := task.NewRunner(cfg.Tasks.QueueSize, cfg.Tasks.Workers, slog.Default())
	defer runner.Close()

	// 6. Build the gate components
	auditor := audit.NewLogger(pgStore, runner, slog.Default())
	authenticator := gate.NewAuthenticator(pgStore, runner, slog.Default())
	statusGate := gate.NewStatusGate(pgStore, slog.Default())
	enforcer := gate.NewEnforcer()
	recorder := metering.NewRecorder(pgStore, runner, cfg.Metering.SampleRate, slog.Default())
	executor := idempotency.NewExecutor(pgStore, redisCache, cfg.Idempotency.TTL, slog.Default())
	sessions := session.NewService(
		cfg.Auth.AccessTokenSecret, cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)

	// 7. Start the idempotency cleanup sweep
	sweeper := idempotency.NewSweeper(pgStore, cfg.Idempotency.CleanupInterval, slog.Default())
	go sweeper.Run(ctx)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Gate:        mw.NewGate(authenticator, statusGate, enforcer, auditor),
		Audit:       mw.NewAudit(auditor),
		RateLimit:   mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMin),
		Idempotency: mw.NewIdempotency(executor),
		SessionAuth: mw.NewSessionAuth(sessions),
		Handlers:    api.NewHandlers(pgStore, redisCache, recorder, sessions),
	}
	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Drain detached metering and audit work before exit.
	runner.Close()

	slog.Info("server stopped gracefully")
	return nil
}
