package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const (
	policyColumns     = `id, name_target, owner_id, weights, is_public, created_at, updated_at`
	assignmentColumns = `id, experiment_name, name_target, subject_id, assigned_version, assigned_at`
)

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*models.ExperimentPolicy, error) {
	var p models.ExperimentPolicy
	if err := row.Scan(&p.ID, &p.NameTarget, &p.OwnerID, &p.Weights, &p.IsPublic, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanAssignment(row scanner) (*models.ExperimentAssignment, error) {
	var a models.ExperimentAssignment
	if err := row.Scan(&a.ID, &a.ExperimentName, &a.NameTarget, &a.SubjectID, &a.AssignedVersion, &a.AssignedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// NormalizeWeights converts wire weights keyed by version strings into
// version numbers, rejecting non-positive weights and malformed keys.
func NormalizeWeights(raw map[string]int) (map[int]int, error) {
	if len(raw) == 0 {
		return nil, apperr.InvalidArgument("weights must not be empty")
	}
	out := make(map[int]int, len(raw))
	for k, w := range raw {
		v, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || v <= 0 {
			return nil, apperr.InvalidArgument("weight key %q is not a version number", k)
		}
		if w <= 0 {
			return nil, apperr.InvalidArgument("weights must be positive (version %d has %d)", v, w)
		}
		if _, dup := out[v]; dup {
			return nil, apperr.InvalidArgument("version %d listed more than once", v)
		}
		out[v] = w
	}
	return out, nil
}

// SetPolicy creates or replaces owner's policy for nameTarget. Every weighted
// version must exist.
func (s *Service) SetPolicy(ctx context.Context, nameTarget string, raw map[string]int, owner access.Principal, isPublic bool) (*models.ExperimentPolicy, error) {
	weights, err := NormalizeWeights(raw)
	if err != nil {
		return nil, err
	}
	if err := s.checkVersions(ctx, nameTarget, weights, owner); err != nil {
		return nil, err
	}

	weightsJSON, err := json.Marshal(weights)
	if err != nil {
		return nil, fmt.Errorf("encode weights: %w", err)
	}

	p, err := scanPolicy(s.db.QueryRow(ctx,
		`INSERT INTO experiment_policies (name_target, owner_id, weights, is_public)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name_target, owner_id)
		 DO UPDATE SET weights = EXCLUDED.weights, is_public = EXCLUDED.is_public, updated_at = now()
		 RETURNING `+policyColumns,
		nameTarget, owner.ID, weightsJSON, isPublic,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert policy: %w", err)
	}
	return p, nil
}

func (s *Service) checkVersions(ctx context.Context, nameTarget string, weights map[int]int, owner access.Principal) error {
	var promptOwner uuid.UUID
	var isPublic bool
	err := s.db.QueryRow(ctx,
		`SELECT owner_id, is_public FROM prompt_versions WHERE name = $1 ORDER BY version DESC LIMIT 1`, nameTarget,
	).Scan(&promptOwner, &isPublic)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("prompt %q not found", nameTarget)
	}
	if err != nil {
		return fmt.Errorf("get prompt: %w", err)
	}
	if err := access.Read(owner, promptOwner, isPublic, fmt.Sprintf("prompt %q", nameTarget)); err != nil {
		return err
	}

	versions := make([]int32, 0, len(weights))
	for v := range weights {
		versions = append(versions, int32(v))
	}

	rows, err := s.db.Query(ctx,
		`SELECT version FROM prompt_versions WHERE name = $1 AND version = ANY($2)`, nameTarget, versions)
	if err != nil {
		return fmt.Errorf("check versions: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return fmt.Errorf("check versions: %w", err)
	}
	if len(found) == len(versions) {
		return nil
	}

	have := make(map[int32]bool, len(found))
	for _, v := range found {
		have[v] = true
	}
	var missing []string
	for _, v := range versions {
		if !have[v] {
			missing = append(missing, strconv.Itoa(int(v)))
		}
	}
	sort.Strings(missing)
	return apperr.InvalidArgument("prompt %q has no version(s) %s", nameTarget, strings.Join(missing, ", "))
}

// GetPolicy returns requester's own policy for nameTarget, else the oldest public one.
func (s *Service) GetPolicy(ctx context.Context, nameTarget string, requester access.Principal) (*models.ExperimentPolicy, error) {
	p, err := scanPolicy(s.db.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM experiment_policies
		 WHERE name_target = $1 AND (owner_id = $2 OR is_public)
		 ORDER BY (owner_id = $2) DESC, created_at ASC
		 LIMIT 1`,
		nameTarget, requester.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no experiment policy for prompt %q", nameTarget)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *Service) ListPolicies(ctx context.Context, requester access.Principal, includePublic bool) ([]models.ExperimentPolicy, error) {
	cond := "owner_id = $1"
	if includePublic {
		cond = "(owner_id = $1 OR is_public)"
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+policyColumns+` FROM experiment_policies WHERE `+cond+` ORDER BY created_at DESC`, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	policies := []models.ExperimentPolicy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// DeletePolicy reports false when the policy is missing or not owned by owner.
func (s *Service) DeletePolicy(ctx context.Context, id uuid.UUID, owner access.Principal) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM experiment_policies WHERE id = $1 AND owner_id = $2`, id, owner.ID)
	if err != nil {
		return false, fmt.Errorf("delete policy: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type AssignRequest struct {
	Experiment string `json:"experiment_name"`
	NameTarget string `json:"prompt_name"`
	SubjectID  string `json:"user_id"`
}

// Assign returns the subject's arm. The first assignment of a
// (experiment, prompt, subject) triple is persisted and returned forever,
// regardless of later policy changes.
func (s *Service) Assign(ctx context.Context, req AssignRequest, requester access.Principal) (*models.ExperimentAssignment, error) {
	if strings.TrimSpace(req.Experiment) == "" || strings.TrimSpace(req.NameTarget) == "" || req.SubjectID == "" {
		return nil, apperr.InvalidArgument("experiment_name, prompt_name and user_id are required")
	}

	policy, err := s.GetPolicy(ctx, req.NameTarget, requester)
	if err != nil {
		return nil, err
	}
	if len(policy.Weights) == 0 {
		return nil, apperr.NotFound("experiment policy for prompt %q has no weights", req.NameTarget)
	}

	existing, err := s.findAssignment(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	version := ChooseVariant(req.SubjectID, policy.Weights)
	a, err := scanAssignment(s.db.QueryRow(ctx,
		`INSERT INTO experiment_assignments (experiment_name, name_target, subject_id, assigned_version)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (experiment_name, name_target, subject_id) DO NOTHING
		 RETURNING `+assignmentColumns,
		req.Experiment, req.NameTarget, req.SubjectID, version,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// a concurrent writer won; its row is the answer
		winner, err := s.findAssignment(ctx, req)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, apperr.Conflict("assignment for %q vanished after conflict", req.SubjectID)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	a.Created = true
	return a, nil
}

func (s *Service) findAssignment(ctx context.Context, req AssignRequest) (*models.ExperimentAssignment, error) {
	a, err := scanAssignment(s.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM experiment_assignments
		 WHERE experiment_name = $1 AND name_target = $2 AND subject_id = $3`,
		req.Experiment, req.NameTarget, req.SubjectID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// Stats counts assignments of experiment whose prompt has a policy owned by
// or public to requester.
func (s *Service) Stats(ctx context.Context, experiment string, requester access.Principal) (*models.ExperimentStats, error) {
	rows, err := s.db.Query(ctx,
		`SELECT a.assigned_version, count(*)
		 FROM experiment_assignments a
		 WHERE a.experiment_name = $1
		   AND EXISTS (
		       SELECT 1 FROM experiment_policies p
		       WHERE p.name_target = a.name_target AND (p.owner_id = $2 OR p.is_public))
		 GROUP BY a.assigned_version
		 ORDER BY a.assigned_version`,
		experiment, requester.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("experiment stats: %w", err)
	}
	defer rows.Close()

	counts := map[int]int{}
	total := 0
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		counts[version] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return buildStats(experiment, counts, total), nil
}

func buildStats(experiment string, counts map[int]int, total int) *models.ExperimentStats {
	stats := &models.ExperimentStats{
		Experiment:       experiment,
		TotalAssignments: total,
		Variants:         make(map[int]models.VariantStats, len(counts)),
	}
	for v, c := range counts {
		pct := 0.0
		if total > 0 {
			pct = math.Round(float64(c)/float64(total)*100*100) / 100
		}
		stats.Variants[v] = models.VariantStats{Count: c, Percentage: pct}
	}
	return stats
}
