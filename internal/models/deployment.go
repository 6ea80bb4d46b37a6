package models

import (
	"time"

	"github.com/google/uuid"
)

type Deployment struct {
	ID              uuid.UUID `json:"id" db:"id"`
	PromptVersionID uuid.UUID `json:"prompt_version_id" db:"prompt_version_id"`
	PromptName      string    `json:"prompt_name" db:"name"`
	PromptVersion   int       `json:"prompt_version" db:"version"`
	Template        string    `json:"template" db:"template"`
	Environment     string    `json:"environment" db:"environment"`
	DeployedBy      uuid.UUID `json:"deployed_by" db:"deployed_by"`
	DeployedAt      time.Time `json:"deployed_at" db:"deployed_at"`
}
