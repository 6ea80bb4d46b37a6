package deployment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const maxEnvironmentLength = 32

const selectDeployment = `SELECT d.id, d.prompt_version_id, pv.name, pv.version, pv.template, d.environment, d.deployed_by, d.deployed_at
	FROM deployments d JOIN prompt_versions pv ON pv.id = d.prompt_version_id`

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*models.Deployment, error) {
	var d models.Deployment
	if err := row.Scan(&d.ID, &d.PromptVersionID, &d.PromptName, &d.PromptVersion, &d.Template, &d.Environment, &d.DeployedBy, &d.DeployedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func validateEnvironment(env string) (string, error) {
	env = strings.TrimSpace(env)
	if env == "" {
		return "", apperr.InvalidArgument("environment is required")
	}
	if len(env) > maxEnvironmentLength {
		return "", apperr.InvalidArgument("environment must be at most %d characters", maxEnvironmentLength)
	}
	return env, nil
}

// Create records that owner deployed their own name@version to environment.
func (s *Service) Create(ctx context.Context, name string, version int, environment string, owner access.Principal) (*models.Deployment, error) {
	env, err := validateEnvironment(environment)
	if err != nil {
		return nil, err
	}

	var versionID uuid.UUID
	err = s.db.QueryRow(ctx,
		`SELECT id FROM prompt_versions WHERE name = $1 AND version = $2 AND owner_id = $3`,
		name, version, owner.ID,
	).Scan(&versionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("version %d of prompt %q not found", version, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	var id uuid.UUID
	err = s.db.QueryRow(ctx,
		`INSERT INTO deployments (prompt_version_id, environment, deployed_by) VALUES ($1, $2, $3) RETURNING id`,
		versionID, env, owner.ID,
	).Scan(&id)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, apperr.NotFound("version %d of prompt %q not found", version, name)
		}
		return nil, fmt.Errorf("insert deployment: %w", err)
	}

	return scanDeployment(s.db.QueryRow(ctx, selectDeployment+` WHERE d.id = $1`, id))
}

func filter(environment string, owner access.Principal, name string) *database.Where {
	w := database.NewWhere().Add("d.environment = ?", environment).Add("d.deployed_by = ?", owner.ID)
	if name != "" {
		w.Add("pv.name = ?", name)
	}
	return w
}

// Current is the latest deployment for environment, or nil when none.
func (s *Service) Current(ctx context.Context, environment string, owner access.Principal, name string) (*models.Deployment, error) {
	w := filter(environment, owner, name)
	d, err := scanDeployment(s.db.QueryRow(ctx,
		selectDeployment+w.String()+` ORDER BY d.deployed_at DESC, d.id DESC LIMIT 1`, w.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current deployment: %w", err)
	}
	return d, nil
}

func (s *Service) History(ctx context.Context, environment string, owner access.Principal, name string, limit, offset int) (models.Page[models.Deployment], error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset = max(offset, 0)

	w := filter(environment, owner, name)
	var total int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM deployments d JOIN prompt_versions pv ON pv.id = d.prompt_version_id`+w.String(),
		w.Args()...,
	).Scan(&total)
	if err != nil {
		return models.Page[models.Deployment]{}, fmt.Errorf("count deployments: %w", err)
	}

	where := w.String()
	limitArg, offsetArg := w.Arg(limit), w.Arg(offset)
	rows, err := s.db.Query(ctx,
		selectDeployment+where+` ORDER BY d.deployed_at DESC, d.id DESC LIMIT `+limitArg+` OFFSET `+offsetArg,
		w.Args()...,
	)
	if err != nil {
		return models.Page[models.Deployment]{}, fmt.Errorf("deployment history: %w", err)
	}
	defer rows.Close()

	var items []models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return models.Page[models.Deployment]{}, fmt.Errorf("scan deployment: %w", err)
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Deployment]{}, err
	}
	return models.NewPage(items, limit, offset, total), nil
}

// Delete removes one of owner's deployments; false when missing or foreign.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, owner access.Principal) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM deployments WHERE id = $1 AND deployed_by = $2`, id, owner.ID)
	if err != nil {
		return false, fmt.Errorf("delete deployment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
