package queue

import "encoding/json"

const (
	TypePromptIndex    = "prompt:index"
	TypeWebhookDeliver = "webhook:deliver"
)

type PromptIndexPayload struct {
	VersionID string `json:"version_id"`
}

type WebhookDeliverPayload struct {
	WebhookID string          `json:"webhook_id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}
