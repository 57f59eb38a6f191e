// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

// Command api is the entry point for the Sagaforge HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire HTTP handlers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
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

	"github.com/sagaforge/sagaforge/internal/api"
	"github.com/sagaforge/sagaforge/internal/consistency"
	"github.com/sagaforge/sagaforge/internal/platform/config"
	"github.com/sagaforge/sagaforge/internal/platform/constants"
	"github.com/sagaforge/sagaforge/internal/platform/migration"
	pgstore "github.com/sagaforge/sagaforge/internal/platform/postgres"
	redisstore "github.com/sagaforge/sagaforge/internal/platform/redis"
	"github.com/sagaforge/sagaforge/internal/platform/sec"
	"github.com/sagaforge/sagaforge/internal/saga"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "sagaforge"))
	slog.SetDefault(log)

	log.Info("[Sagaforge] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "sagaforge"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.Bool("ai_enabled", cfg.AIEnabled),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Token Verifier ─────────────────────────────────────────────────
	// Actor identity is minted elsewhere; this service only verifies.
	verifier, err := sec.NewTokenVerifier(cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize token verifier")

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 8. Domain Wiring ──────────────────────────────────────────────────
	analysisCache := consistency.NewCache(rdb, log)

	sagaRepository := saga.NewPostgresRepository(pool)
	sagaService := saga.NewService(sagaRepository, analysisCache)
	sagaHandler := saga.NewHandler(sagaService)

	aiClient := buildAnalysisClient(cfg, log)

	issueRepository := consistency.NewPostgresRepository(pool)
	evaluator := consistency.NewRuleEvaluator(log)
	consistencyService := consistency.NewService(
		sagaRepository, issueRepository, evaluator, aiClient, analysisCache, cfg.AIEnabled, log)
	consistencyHandler := consistency.NewHandler(consistencyService)

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:    liveness,
		Readiness:   readiness,
		Saga:        sagaHandler,
		Consistency: consistencyHandler,
	}

	server := api.NewServer(startupCtx, cfg, log, verifier, handlers)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// buildAnalysisClient assembles the primary/secondary provider chain from
// whatever credentials are configured. Missing credentials shrink the chain
// rather than failing startup; with no providers at all, analysis runs
// rule-only and the orchestrator reports AI as disabled.
func buildAnalysisClient(cfg *config.Config, log *slog.Logger) consistency.AnalysisClient {
	var primary, secondary consistency.Provider

	if cfg.OpenAIAPIKey != "" {
		provider, err := consistency.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			log.Warn("openai provider unavailable", slog.Any("error", err))
		} else {
			primary = provider
		}
	}

	if cfg.AnthropicAPIKey != "" {
		provider, err := consistency.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.AnthropicModel)
		if err != nil {
			log.Warn("anthropic provider unavailable", slog.Any("error", err))
		} else {
			secondary = provider
		}
	}

	// Promote the secondary when the primary is missing so a single
	// configured provider still serves requests.
	if primary == nil && secondary != nil {
		primary, secondary = secondary, nil
	}
	if primary == nil {
		log.Info("no ai providers configured, analysis runs rule-only")
		return nil
	}

	return consistency.NewClient(primary, secondary, log)
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
