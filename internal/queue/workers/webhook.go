package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/lioarce01/prompt-version-hub/internal/queue"
	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

type Deliverer interface {
	Deliver(ctx context.Context, req webhook.Delivery) error
}

type WebhookWorker struct {
	deliverer Deliverer
}

func NewWebhookWorker(d Deliverer) *WebhookWorker {
	return &WebhookWorker{deliverer: d}
}

func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	id, err := uuid.Parse(payload.WebhookID)
	if err != nil {
		return fmt.Errorf("parse webhook ID: %w: %w", err, asynq.SkipRetry)
	}

	retry, _ := asynq.GetRetryCount(ctx)
	err = w.deliverer.Deliver(ctx, webhook.Delivery{
		WebhookID: id,
		Event:     payload.Event,
		Body:      payload.Payload,
		Attempt:   retry + 1,
	})
	if errors.Is(err, webhook.ErrPermanent) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
