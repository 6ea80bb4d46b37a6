package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/lioarce01/prompt-version-hub/internal/config"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
	"github.com/lioarce01/prompt-version-hub/internal/queue"
	"github.com/lioarce01/prompt-version-hub/internal/queue/workers"
	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

const concurrency = 10

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

	ctx := context.Background()
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	gateway := llm.NewGateway(ctx, cfg.LLM)
	if gateway.CanEmbed() {
		index := workers.NewIndexWorker(prompt.NewSimilarityIndex(db, gateway))
		registry.Register(queue.TypePromptIndex, index.ProcessTask)
	} else {
		slog.Warn("no embedding provider configured, prompt indexing disabled")
	}

	deliver := workers.NewWebhookWorker(webhook.NewDeliverer(db, nil))
	registry.Register(queue.TypeWebhookDeliver, deliver.ProcessTask)

	slog.Info("starting worker", "concurrency", concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
