package models

import (
	"time"

	"github.com/google/uuid"
)

type Summary struct {
	Prompts       int `json:"prompts"`
	ActivePrompts int `json:"active_prompts"`
	Deployments   int `json:"deployments"`
	Experiments   int `json:"experiments"`
	Usage7d       int `json:"usage_7d"`
}

type TrendPoint struct {
	Start      string   `json:"start"`
	Executions int      `json:"executions"`
	Failures   int      `json:"failures"`
	AvgLatency *float64 `json:"avg_latency"`
	AvgCost    *float64 `json:"avg_cost"`
}

type VelocityPoint struct {
	Month    string `json:"month"`
	Releases int    `json:"releases"`
}

type TopPrompt struct {
	Name        string    `json:"name"`
	Executions  int       `json:"executions"`
	SuccessRate float64   `json:"success_rate"`
	AvgCost     *float64  `json:"avg_cost"`
	LastUpdated time.Time `json:"last_updated"`
}

type ExperimentArm struct {
	Version     int      `json:"version"`
	Weight      float64  `json:"weight"`
	Assignments int      `json:"assignments"`
	SuccessRate *float64 `json:"success_rate"`
}

type ExperimentOverview struct {
	Experiment string          `json:"experiment"`
	Prompt     string          `json:"prompt"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	Arms       []ExperimentArm `json:"arms"`
}
