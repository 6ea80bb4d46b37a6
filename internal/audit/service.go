// Package audit records who changed what. Entries are written after the
// change commits and never block the request that caused them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const (
	ActionPromptCreate     = "prompt.create"
	ActionPromptUpdate     = "prompt.update"
	ActionPromptRollback   = "prompt.rollback"
	ActionPromptVisibility = "prompt.visibility"
	ActionPromptClone      = "prompt.clone"
	ActionPromptDelete     = "prompt.delete"
	ActionDeploymentCreate = "deployment.create"
	ActionDeploymentDelete = "deployment.delete"
	ActionPolicySet        = "experiment.policy_set"
	ActionPolicyDelete     = "experiment.policy_delete"
	ActionTestsGenerate    = "tests.generate"
	ActionTestsRun         = "tests.run"
	ActionAIGenerate       = "ai.generate"
)

const (
	ResourcePrompt     = "prompt"
	ResourceDeployment = "deployment"
	ResourceExperiment = "experiment"
	ResourceTestSuite  = "test_suite"
	ResourceGeneration = "ai_generation"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type LogEntry struct {
	Action       string
	ResourceType string
	ResourceName string
	Details      map[string]any
	IPAddress    string
}

// Log stores entry attributed to the principal in ctx, if any.
func (s *Service) Log(ctx context.Context, entry LogEntry) error {
	var userID *uuid.UUID
	if p, ok := access.FromContext(ctx); ok {
		userID = &p.ID
	}

	details := []byte("{}")
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}

	var ip *netip.Addr
	if entry.IPAddress != "" {
		if parsed, err := netip.ParseAddr(entry.IPAddress); err == nil {
			ip = &parsed
		}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_logs (user_id, action, resource_type, resource_name, details, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, entry.Action, entry.ResourceType, entry.ResourceName, details, ip,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Record is Log for callers that have nothing useful to do with a failure.
func (s *Service) Record(ctx context.Context, entry LogEntry) {
	if err := s.Log(ctx, entry); err != nil {
		slog.Warn("failed to write audit log", "action", entry.Action, "resource", entry.ResourceName, "error", err)
	}
}

type Query struct {
	Action    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// List returns entries newest first. Callers gate it to admins.
func (s *Service) List(ctx context.Context, q Query) (models.Page[models.AuditLog], error) {
	if q.Limit <= 0 || q.Limit > maxLimit {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := database.NewWhere()
	if q.Action != "" {
		where.Add("action = ?", q.Action)
	}
	if q.StartDate != nil {
		where.Add("created_at >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		where.Add("created_at <= ?", *q.EndDate)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM audit_logs`+where.String(), where.Args()...).Scan(&total); err != nil {
		return models.Page[models.AuditLog]{}, fmt.Errorf("count audit logs: %w", err)
	}

	query := `SELECT id, user_id, action, COALESCE(resource_type, ''), COALESCE(resource_name, ''), details, host(ip_address), created_at
		FROM audit_logs` + where.String() +
		` ORDER BY created_at DESC, id LIMIT ` + where.Arg(q.Limit) + ` OFFSET ` + where.Arg(q.Offset)

	rows, err := s.db.Query(ctx, query, where.Args()...)
	if err != nil {
		return models.Page[models.AuditLog]{}, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.ResourceType, &l.ResourceName, &l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return models.Page[models.AuditLog]{}, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.AuditLog]{}, fmt.Errorf("iterate audit logs: %w", err)
	}
	return models.NewPage(logs, q.Limit, q.Offset, total), nil
}
