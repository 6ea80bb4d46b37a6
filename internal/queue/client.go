package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lioarce01/prompt-version-hub/internal/config"
)

const webhookMaxRetry = 5

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueuePromptIndex(ctx context.Context, payload PromptIndexPayload) error {
	return c.enqueue(ctx, TypePromptIndex, payload, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute), asynq.Queue("low"))
}

func (c *Client) EnqueueWebhookDeliver(ctx context.Context, payload WebhookDeliverPayload) error {
	return c.enqueue(ctx, TypeWebhookDeliver, payload, asynq.MaxRetry(webhookMaxRetry), asynq.Timeout(30*time.Second))
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
