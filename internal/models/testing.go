package models

import (
	"time"

	"github.com/google/uuid"
)

type TestCategory string

const (
	CategoryHappyPath TestCategory = "happy_path"
	CategoryEdgeCase  TestCategory = "edge_case"
	CategoryBoundary  TestCategory = "boundary"
	CategoryNegative  TestCategory = "negative"
)

func (c TestCategory) Valid() bool {
	switch c {
	case CategoryHappyPath, CategoryEdgeCase, CategoryBoundary, CategoryNegative:
		return true
	}
	return false
}

type TestCase struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	PromptName     string       `json:"prompt_name" db:"prompt_name"`
	Name           string       `json:"name" db:"name"`
	InputText      string       `json:"input_text" db:"input_text"`
	ExpectedOutput *string      `json:"expected_output,omitempty" db:"expected_output"`
	Category       TestCategory `json:"category" db:"category"`
	AutoGenerated  bool         `json:"auto_generated" db:"auto_generated"`
	CreatedBy      uuid.UUID    `json:"created_by" db:"created_by"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// TestRun is the record of one execution. Success is nil when the case had
// no expected output to compare against.
type TestRun struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	PromptName    string     `json:"prompt_name" db:"prompt_name"`
	PromptVersion int        `json:"prompt_version" db:"prompt_version"`
	TestCaseID    *uuid.UUID `json:"test_case_id,omitempty" db:"test_case_id"`
	InputText     string     `json:"input_text" db:"input_text"`
	OutputText    *string    `json:"output_text,omitempty" db:"output_text"`
	Success       *bool      `json:"success" db:"success"`
	LatencyMs     *int       `json:"latency_ms,omitempty" db:"latency_ms"`
	TokensUsed    *int       `json:"tokens_used,omitempty" db:"tokens_used"`
	CostCents     *float64   `json:"cost_cents,omitempty" db:"cost_cents"`
	ErrorMessage  *string    `json:"error_message,omitempty" db:"error_message"`
	ExecutedBy    uuid.UUID  `json:"executed_by" db:"executed_by"`
	ExecutedAt    time.Time  `json:"executed_at" db:"executed_at"`
}

type TestSuite struct {
	PromptName    string     `json:"prompt_name"`
	PromptVersion int        `json:"prompt_version"`
	Template      string     `json:"template"`
	Variables     []string   `json:"variables"`
	Cases         []TestCase `json:"test_cases"`
	Runs          []TestRun  `json:"recent_runs"`
}
