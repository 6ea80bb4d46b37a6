package models

import (
	"time"

	"github.com/google/uuid"
)

type UsageEvent struct {
	ID              uuid.UUID `json:"id" db:"id"`
	PromptVersionID uuid.UUID `json:"prompt_version_id" db:"prompt_version_id"`
	PromptName      string    `json:"prompt_name" db:"name"`
	PromptVersion   int       `json:"prompt_version" db:"version"`
	SubjectID       *string   `json:"user_id,omitempty" db:"subject_id"`
	Output          *string   `json:"output,omitempty" db:"output"`
	Success         bool      `json:"success" db:"success"`
	LatencyMs       *int      `json:"latency_ms,omitempty" db:"latency_ms"`
	Cost            *float64  `json:"cost,omitempty" db:"cost"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type VersionUsage struct {
	Version     int      `json:"version"`
	Count       int      `json:"count"`
	SuccessRate float64  `json:"success_rate"`
	AvgLatency  *float64 `json:"avg_latency,omitempty"`
	AvgCost     *float64 `json:"avg_cost,omitempty"`
}
