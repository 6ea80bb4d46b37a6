package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Action       string          `json:"action" db:"action"`
	ResourceType string          `json:"resource_type,omitempty" db:"resource_type"`
	ResourceName string          `json:"resource_name,omitempty" db:"resource_name"`
	Details      json.RawMessage `json:"details" db:"details"`
	IPAddress    *string         `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

type Webhook struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	URL       string    `json:"url" db:"url"`
	Events    []string  `json:"events" db:"events"`
	Secret    string    `json:"-" db:"secret"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type WebhookDelivery struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	WebhookID      uuid.UUID       `json:"webhook_id" db:"webhook_id"`
	Event          string          `json:"event" db:"event"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	ResponseStatus int             `json:"response_status" db:"response_status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

type AIGeneration struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	RequestData    json.RawMessage `json:"request_data" db:"request_data"`
	ResponseData   json.RawMessage `json:"response_data" db:"response_data"`
	PromptTemplate string          `json:"prompt_template" db:"prompt_template"`
	Variables      []string        `json:"variables" db:"variables"`
	Provider       string          `json:"provider" db:"provider"`
	Model          string          `json:"model" db:"model"`
	TokensUsed     int             `json:"tokens_used" db:"tokens_used"`
	CostCents      float64         `json:"cost_cents" db:"cost_cents"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}
