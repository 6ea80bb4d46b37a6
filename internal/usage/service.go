package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type RecordRequest struct {
	PromptName string   `json:"prompt_name"`
	Version    int      `json:"version,omitempty"` // 0 = active
	SubjectID  *string  `json:"user_id,omitempty"`
	Output     *string  `json:"output,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	LatencyMs  *int     `json:"latency_ms,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`
}

// Record appends a usage event for a version visible to the caller.
func (s *Service) Record(ctx context.Context, req RecordRequest, p access.Principal) (*models.UsageEvent, error) {
	if req.PromptName == "" {
		return nil, apperr.InvalidArgument("prompt_name is required")
	}
	if req.LatencyMs != nil && *req.LatencyMs < 0 {
		return nil, apperr.InvalidArgument("latency_ms must not be negative")
	}

	var ev models.UsageEvent
	var owner uuid.UUID
	var isPublic bool

	query := `SELECT id, name, version, owner_id, is_public FROM prompt_versions WHERE name = $1 AND active`
	args := []any{req.PromptName}
	if req.Version > 0 {
		query = `SELECT id, name, version, owner_id, is_public FROM prompt_versions WHERE name = $1 AND version = $2`
		args = append(args, req.Version)
	}
	err := s.db.QueryRow(ctx, query, args...).Scan(&ev.PromptVersionID, &ev.PromptName, &ev.PromptVersion, &owner, &isPublic)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("prompt %q not found", req.PromptName)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if err := access.Read(p, owner, isPublic, fmt.Sprintf("prompt %q", req.PromptName)); err != nil {
		return nil, err
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO usage_events (prompt_version_id, subject_id, output, success, latency_ms, cost)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, subject_id, output, success, latency_ms, cost, created_at`,
		ev.PromptVersionID, req.SubjectID, req.Output, success, req.LatencyMs, req.Cost,
	).Scan(&ev.ID, &ev.SubjectID, &ev.Output, &ev.Success, &ev.LatencyMs, &ev.Cost, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert usage event: %w", err)
	}
	return &ev, nil
}

// ByVersion aggregates usage of name per version, optionally bounded.
func (s *Service) ByVersion(ctx context.Context, name string, minVersion, maxVersion *int, viewer access.Principal) ([]models.VersionUsage, error) {
	var visible bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM prompt_versions WHERE name = $1 AND (owner_id = $2 OR is_public))`,
		name, viewer.ID,
	).Scan(&visible)
	if err != nil {
		return nil, fmt.Errorf("check prompt: %w", err)
	}
	if !visible {
		return nil, apperr.NotFound("prompt %q not found", name)
	}

	w := database.NewWhere().Add("pv.name = ?", name)
	if minVersion != nil {
		w.Add("pv.version >= ?", *minVersion)
	}
	if maxVersion != nil {
		w.Add("pv.version <= ?", *maxVersion)
	}

	rows, err := s.db.Query(ctx,
		`SELECT pv.version,
		        count(u.id),
		        COALESCE(avg(CASE WHEN u.success THEN 1.0 ELSE 0.0 END), 0)::float8,
		        avg(u.latency_ms)::float8,
		        avg(u.cost)::float8
		 FROM usage_events u JOIN prompt_versions pv ON pv.id = u.prompt_version_id`+w.String()+`
		 GROUP BY pv.version
		 ORDER BY pv.version`,
		w.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("usage by version: %w", err)
	}
	defer rows.Close()

	out := []models.VersionUsage{}
	for rows.Next() {
		var r models.VersionUsage
		if err := rows.Scan(&r.Version, &r.Count, &r.SuccessRate, &r.AvgLatency, &r.AvgCost); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
