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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lioarce01/prompt-version-hub/internal/api"
	"github.com/lioarce01/prompt-version-hub/internal/auth"
	"github.com/lioarce01/prompt-version-hub/internal/config"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/queue"
	"github.com/lioarce01/prompt-version-hub/internal/user"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	if cfg.Auth.AdminEmail != "" {
		authSvc := auth.NewService(db, user.NewService(db), auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL), cfg.Auth.RefreshTTL)
		if _, err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			slog.Error("failed to bootstrap admin", "error", err)
			os.Exit(1)
		}
	}

	gateway := llm.NewGateway(ctx, cfg.LLM)
	deps := api.Deps{DB: db, Generator: gateway}
	if gateway.CanEmbed() {
		deps.Embedder = gateway
	}

	// Redis backs the AI quota and the task queue; without it both are off.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running without quotas, webhooks or indexing", "error", err)
	} else {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		deps.Redis = rdb
		deps.Queue = qc
	}

	handler := api.NewRouter(cfg, deps).Setup(ctx)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "embeddings", deps.Embedder != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
