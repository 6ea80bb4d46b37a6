// Package webhook notifies owner-registered URLs about changes to their
// prompts. Dispatch only enqueues; delivery happens in the worker.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
	"github.com/lioarce01/prompt-version-hub/internal/queue"
)

const (
	EventVersionCreated    = "prompt.version_created"
	EventPromptDeleted     = "prompt.deleted"
	EventDeploymentCreated = "deployment.created"
	EventPolicyUpdated     = "experiment.policy_updated"
)

var Events = []string{EventVersionCreated, EventPromptDeleted, EventDeploymentCreated, EventPolicyUpdated}

const secretPrefix = "whsec_"

type Enqueuer interface {
	EnqueueWebhookDeliver(ctx context.Context, payload queue.WebhookDeliverPayload) error
}

type Service struct {
	db    database.DB
	queue Enqueuer
	now   func() time.Time
}

func NewService(db database.DB, q Enqueuer) *Service {
	return &Service{db: db, queue: q, now: time.Now}
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (r *CreateRequest) validate() error {
	r.URL = strings.TrimSpace(r.URL)
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.InvalidArgument("url must be an absolute http(s) URL")
	}
	if len(r.Events) == 0 {
		return apperr.InvalidArgument("at least one event is required")
	}
	for _, e := range r.Events {
		if !slices.Contains(Events, e) {
			return apperr.InvalidArgument("unknown event %q", e)
		}
	}
	slices.Sort(r.Events)
	r.Events = slices.Compact(r.Events)
	return nil
}

// Create registers a subscription for owner. The secret is only returned here.
func (s *Service) Create(ctx context.Context, owner access.Principal, req CreateRequest) (*models.Webhook, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	var wh models.Webhook
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (owner_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING id, owner_id, url, events, is_active, created_at`,
		owner.ID, req.URL, req.Events, secret,
	).Scan(&wh.ID, &wh.OwnerID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	wh.Secret = secret
	return &wh, nil
}

func (s *Service) List(ctx context.Context, owner access.Principal) ([]models.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, url, events, is_active, created_at
		 FROM webhooks WHERE owner_id = $1 ORDER BY created_at DESC`,
		owner.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []models.Webhook{}
	for rows.Next() {
		var wh models.Webhook
		if err := rows.Scan(&wh.ID, &wh.OwnerID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, owner access.Principal) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND owner_id = $2`, id, owner.ID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("webhook not found")
	}
	return nil
}

// Deliveries lists the most recent delivery attempts of one of owner's webhooks.
func (s *Service) Deliveries(ctx context.Context, id uuid.UUID, owner access.Principal, limit int) ([]models.WebhookDelivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhooks WHERE id = $1 AND owner_id = $2)`, id, owner.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check webhook: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound("webhook not found")
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, webhook_id, event, payload, COALESCE(response_status, 0), attempts, delivered_at, created_at
		 FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := []models.WebhookDelivery{}
	for rows.Next() {
		var d models.WebhookDelivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.Event, &d.Payload, &d.ResponseStatus, &d.Attempts, &d.DeliveredAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Envelope is the JSON body POSTed to subscribers.
type Envelope struct {
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

// Dispatch enqueues one delivery per active subscription of owner to event.
// It returns the number of deliveries enqueued.
func (s *Service) Dispatch(ctx context.Context, owner uuid.UUID, event string, data any) (int, error) {
	body, err := json.Marshal(Envelope{Event: event, CreatedAt: s.now().UTC(), Data: data})
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id FROM webhooks WHERE owner_id = $1 AND is_active AND $2 = ANY(events)`,
		owner, event,
	)
	if err != nil {
		return 0, fmt.Errorf("find matching webhooks: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan webhook id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("find matching webhooks: %w", err)
	}

	for i, id := range ids {
		err := s.queue.EnqueueWebhookDeliver(ctx, queue.WebhookDeliverPayload{
			WebhookID: id.String(),
			Event:     event,
			Payload:   body,
		})
		if err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// Notify is Dispatch for request handlers: failures are logged, not returned.
func (s *Service) Notify(ctx context.Context, owner uuid.UUID, event string, data any) {
	if _, err := s.Dispatch(ctx, owner, event, data); err != nil {
		slog.Warn("webhook dispatch failed", "event", event, "owner_id", owner, "error", err)
	}
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(b), nil
}
