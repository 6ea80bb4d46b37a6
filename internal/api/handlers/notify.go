package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/audit"
	"github.com/lioarce01/prompt-version-hub/internal/models"
	"github.com/lioarce01/prompt-version-hub/internal/queue"
	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

type IndexEnqueuer interface {
	EnqueuePromptIndex(ctx context.Context, payload queue.PromptIndexPayload) error
}

// Notifier fans a committed change out to the audit log, owner webhooks and
// the embedding queue. Any part may be nil. Failures never fail the request.
type Notifier struct {
	audit    *audit.Service
	webhooks *webhook.Service
	index    IndexEnqueuer
}

func NewNotifier(a *audit.Service, w *webhook.Service, index IndexEnqueuer) *Notifier {
	return &Notifier{audit: a, webhooks: w, index: index}
}

func (n *Notifier) record(r *http.Request, action, resourceType, name string, details map[string]any) {
	if n == nil || n.audit == nil {
		return
	}
	n.audit.Record(r.Context(), audit.LogEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceName: name,
		Details:      details,
		IPAddress:    remoteIP(r),
	})
}

func (n *Notifier) publish(ctx context.Context, owner uuid.UUID, event string, data any) {
	if n == nil || n.webhooks == nil {
		return
	}
	n.webhooks.Notify(ctx, owner, event, data)
}

// versionCreated covers create, update, rollback and clone.
func (n *Notifier) versionCreated(r *http.Request, action string, v *models.PromptVersion) {
	n.record(r, action, audit.ResourcePrompt, v.Name, map[string]any{"version": v.Version})
	n.publish(r.Context(), v.OwnerID, webhook.EventVersionCreated, v)
	if n == nil || n.index == nil {
		return
	}
	if err := n.index.EnqueuePromptIndex(r.Context(), queue.PromptIndexPayload{VersionID: v.ID.String()}); err != nil {
		slog.Warn("failed to enqueue prompt indexing", "name", v.Name, "version", v.Version, "error", err)
	}
}
