package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/lioarce01/prompt-version-hub/internal/queue"
)

type Indexer interface {
	IndexVersion(ctx context.Context, versionID uuid.UUID) error
}

// IndexWorker embeds newly activated versions for similarity search.
type IndexWorker struct {
	index Indexer
}

func NewIndexWorker(index Indexer) *IndexWorker {
	return &IndexWorker{index: index}
}

func (w *IndexWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.PromptIndexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	id, err := uuid.Parse(payload.VersionID)
	if err != nil {
		return fmt.Errorf("parse version ID: %w: %w", err, asynq.SkipRetry)
	}

	if err := w.index.IndexVersion(ctx, id); err != nil {
		return fmt.Errorf("index version %s: %w", id, err)
	}
	return nil
}
