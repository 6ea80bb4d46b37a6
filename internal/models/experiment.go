package models

import (
	"time"

	"github.com/google/uuid"
)

// ExperimentPolicy maps version numbers of NameTarget to positive weights.
type ExperimentPolicy struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	NameTarget string      `json:"prompt_name" db:"name_target"`
	OwnerID    uuid.UUID   `json:"created_by" db:"owner_id"`
	Weights    map[int]int `json:"weights" db:"weights"`
	IsPublic   bool        `json:"is_public" db:"is_public"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

type ExperimentAssignment struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ExperimentName  string    `json:"experiment_name" db:"experiment_name"`
	NameTarget      string    `json:"prompt_name" db:"name_target"`
	SubjectID       string    `json:"user_id" db:"subject_id"`
	AssignedVersion int       `json:"version" db:"assigned_version"`
	AssignedAt      time.Time `json:"assigned_at" db:"assigned_at"`
	Created         bool      `json:"created"`
}

type VariantStats struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type ExperimentStats struct {
	Experiment       string               `json:"experiment_name"`
	TotalAssignments int                  `json:"total_assignments"`
	Variants         map[int]VariantStats `json:"variants"`
}
