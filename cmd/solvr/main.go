// Solvr server: exposes the problem-solving HTTP API, runs sessions in
// the background and persists completed runs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/solvr-ai/solvr/pkg/api"
	"github.com/solvr-ai/solvr/pkg/cleanup"
	"github.com/solvr-ai/solvr/pkg/config"
	"github.com/solvr-ai/solvr/pkg/history"
	"github.com/solvr-ai/solvr/pkg/llm"
	"github.com/solvr-ai/solvr/pkg/queue"
	"github.com/solvr-ai/solvr/pkg/ratelimit"
	"github.com/solvr-ai/solvr/pkg/react"
	"github.com/solvr-ai/solvr/pkg/session"
	"github.com/solvr-ai/solvr/pkg/tools"
	"github.com/solvr-ai/solvr/pkg/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("Starting solvr",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"default_model", cfg.DefaultModel,
		"models", cfg.Models)

	ctx := context.Background()

	// 1. Persistence backend: Postgres wins over Mongo; file is the fallback.
	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open history store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(context.Background()); err != nil {
			logger.Error("Error closing history store", "error", err)
		}
	}()

	// 2. LLM provider and rate limiter.
	if cfg.GoogleAPIKey == "" {
		logger.Warn("GOOGLE_API_KEY is not set, LLM calls will fail")
	}
	provider := llm.NewOpenAIProvider(cfg.GoogleAPIKey, cfg.GoogleAPIURL)
	limiter := ratelimit.New(nil)

	// 3. Tool registry.
	registry := tools.NewRegistry()
	mustRegister(logger, registry, tools.NewFinalAnswerTool(tools.DefaultFinalAnswerFormat))
	mustRegister(logger, registry, tools.NewCodeExecutor(cfg.CodeTimeout))
	if cfg.PerplexityAPIKey != "" {
		mustRegister(logger, registry, tools.NewWebSearchTool(cfg.PerplexityAPIKey, nil))
	} else {
		logger.Warn("PPLX_API_KEY is not set, web search tool disabled")
	}
	logger.Info("Tools registered", "tools", registry.Names())

	// 4. Session manager and background runner.
	manager := session.NewManager(repo, logger)
	factory := func(model, thinkingLevel string) *react.Engine {
		opts := react.Options{
			MaxThoughtCycles: cyclesFor(cfg.MaxThoughtCycles, thinkingLevel),
			MaxRetries:       cfg.MaxRetries,
			Planning:         cfg.Planning,
		}
		return react.NewEngine(provider, model, limiter, registry, logger, opts)
	}
	runner := queue.NewRunner(manager, factory, cfg.DefaultModel, logger)

	// 5. Retention sweeps.
	cleaner := cleanup.NewService(manager, cfg.SessionTTL, cfg.CleanupInterval, logger)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	// 6. HTTP server.
	server := api.NewServer(manager, runner, repo, cfg.Models, cfg.DefaultModel, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	// Stop accepting work, then flush in-flight sessions to the store.
	runner.Stop()
	logger.Info("Solvr stopped")
}

// setupLogger builds the process logger from LOG_LEVEL and LOG_FILE.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stderr
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closeLog = func() { _ = f.Close() }
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeLog, nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (history.Repository, error) {
	switch {
	case cfg.PostgresEnabled:
		logger.Info("Using PostgreSQL history store")
		return history.NewPGStore(ctx, cfg.DatabaseURL)
	case cfg.MongoEnabled:
		logger.Info("Using MongoDB history store",
			"database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return history.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		logger.Info("Using file history store", "dir", cfg.HistoryDir)
		return history.NewFileStore(cfg.HistoryDir)
	}
}

func mustRegister(logger *slog.Logger, registry *tools.Registry, t tools.Tool) {
	if err := registry.Register(t); err != nil {
		logger.Error("Tool registration failed", "tool", t.Name(), "error", err)
		os.Exit(1)
	}
}

// cyclesFor scales the thought-cycle budget by the requested thinking
// level.
func cyclesFor(base int, thinkingLevel string) int {
	switch strings.ToLower(thinkingLevel) {
	case "low":
		if base/2 > 0 {
			return base / 2
		}
		return 1
	case "high":
		return base * 2
	default:
		return base
	}
}
