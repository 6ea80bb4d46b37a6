package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/database"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	IDHeader        = "X-Webhook-ID"
)

// ErrPermanent marks a delivery the subscriber rejected; retrying will not help.
var ErrPermanent = errors.New("webhook delivery rejected")

type Delivery struct {
	WebhookID uuid.UUID
	Event     string
	Body      []byte
	Attempt   int
}

type Deliverer struct {
	db         database.DB
	httpClient *http.Client
}

func NewDeliverer(db database.DB, client *http.Client) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Deliverer{db: db, httpClient: client}
}

// Deliver POSTs the signed body and records the attempt. Network errors and
// 5xx responses are returned for the queue to retry; 4xx responses wrap
// ErrPermanent.
func (d *Deliverer) Deliver(ctx context.Context, req Delivery) error {
	var target, secret string
	var active bool
	err := d.db.QueryRow(ctx, `SELECT url, secret, is_active FROM webhooks WHERE id = $1`, req.WebhookID).Scan(&target, &secret, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		slog.Info("webhook removed before delivery", "webhook_id", req.WebhookID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get webhook: %w", err)
	}
	if !active {
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		d.record(ctx, req, 0, false)
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(EventHeader, req.Event)
	httpReq.Header.Set(SignatureHeader, Sign(req.Body, secret))
	httpReq.Header.Set(IDHeader, req.WebhookID.String())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		d.record(ctx, req, 0, false)
		return fmt.Errorf("post webhook: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	ok := resp.StatusCode < 400
	d.record(ctx, req, resp.StatusCode, ok)

	switch {
	case ok:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	}
}

func (d *Deliverer) record(ctx context.Context, req Delivery, status int, delivered bool) {
	var deliveredAt *time.Time
	if delivered {
		now := time.Now()
		deliveredAt = &now
	}
	var statusArg *int
	if status > 0 {
		statusArg = &status
	}
	attempt := max(req.Attempt, 1)

	_, err := d.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, payload, response_status, attempts, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.WebhookID, req.Event, req.Body, statusArg, attempt, deliveredAt,
	)
	if err != nil {
		slog.Error("failed to record webhook delivery", "webhook_id", req.WebhookID, "error", err)
	}
}

// Sign returns the X-Webhook-Signature value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
