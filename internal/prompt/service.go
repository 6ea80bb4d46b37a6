package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const versionColumns = `id, name, version, template, variables, owner_id, active, is_public, created_at`

const (
	defaultLimit = 20
	maxLimit     = 100
	cloneRetries = 5
)

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type CreateRequest struct {
	Name      string   `json:"name"`
	Template  string   `json:"template"`
	Variables []string `json:"variables"`
}

type UpdateRequest struct {
	Template  string   `json:"template"`
	Variables []string `json:"variables"`
}

type VersionFilter struct {
	Active    *bool
	CreatedBy *string
	Limit     int
	Offset    int
}

type ListFilter struct {
	Scope      string
	Query      string
	Active     *bool
	CreatedBy  *string
	LatestOnly bool
	SortBy     string
	Order      string
	Limit      int
	Offset     int
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (*models.PromptVersion, error) {
	var v models.PromptVersion
	if err := row.Scan(&v.ID, &v.Name, &v.Version, &v.Template, &v.Variables, &v.OwnerID, &v.Active, &v.IsPublic, &v.CreatedAt); err != nil {
		return nil, err
	}
	if v.Variables == nil {
		v.Variables = []string{}
	}
	return &v, nil
}

func collectVersions(rows pgx.Rows) ([]models.PromptVersion, error) {
	defer rows.Close()
	var out []models.PromptVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func label(name string) string {
	return fmt.Sprintf("prompt %q", name)
}

func variablesJSON(template string, vars []string) []byte {
	if vars == nil {
		vars = ExtractVariables(template)
	}
	b, _ := json.Marshal(vars)
	return b
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.InvalidArgument("name is required")
	}
	if len(name) > maxNameLength {
		return "", apperr.InvalidArgument("name must be at most %d characters", maxNameLength)
	}
	return name, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Create starts a new version chain. The first writer of a name wins; later
// content changes go through Update.
func (s *Service) Create(ctx context.Context, req CreateRequest, owner access.Principal) (*models.PromptVersion, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM prompt_versions WHERE name = $1)`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check prompt: %w", err)
	}
	if exists {
		return nil, apperr.AlreadyExists("prompt %q already exists; update it to add a version", name)
	}

	v, err := scanVersion(s.db.QueryRow(ctx,
		`INSERT INTO prompt_versions (name, version, template, variables, owner_id, active, is_public)
		 VALUES ($1, 1, $2, $3, $4, true, false)
		 RETURNING `+versionColumns,
		name, req.Template, variablesJSON(req.Template, req.Variables), owner.ID,
	))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.AlreadyExists("prompt %q already exists; update it to add a version", name)
		}
		return nil, fmt.Errorf("insert prompt: %w", err)
	}
	return v, nil
}

// Update appends a new active head with the given content.
func (s *Service) Update(ctx context.Context, name string, req UpdateRequest, owner access.Principal) (*models.PromptVersion, error) {
	return s.appendHead(ctx, name, owner, func(ctx context.Context, tx pgx.Tx, head *models.PromptVersion) (string, []byte, error) {
		return req.Template, variablesJSON(req.Template, req.Variables), nil
	})
}

// Rollback appends a new active head whose content equals target. History
// is never rewound.
func (s *Service) Rollback(ctx context.Context, name string, target int, owner access.Principal) (*models.PromptVersion, error) {
	return s.appendHead(ctx, name, owner, func(ctx context.Context, tx pgx.Tx, head *models.PromptVersion) (string, []byte, error) {
		src, err := scanVersion(tx.QueryRow(ctx,
			`SELECT `+versionColumns+` FROM prompt_versions WHERE name = $1 AND version = $2`, name, target))
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, apperr.NotFound("version %d of %s not found", target, label(name))
		}
		if err != nil {
			return "", nil, fmt.Errorf("get target version: %w", err)
		}
		if err := access.Read(owner, src.OwnerID, src.IsPublic, fmt.Sprintf("version %d of %s", target, label(name))); err != nil {
			return "", nil, err
		}
		vars, _ := json.Marshal(src.Variables)
		return src.Template, vars, nil
	})
}

type contentFunc func(ctx context.Context, tx pgx.Tx, head *models.PromptVersion) (template string, variables []byte, err error)

// appendHead flips the current active row and inserts max(version)+1 in one
// transaction. Writers of the same name are serialized by an advisory lock;
// the partial unique index on active rows backs this up.
func (s *Service) appendHead(ctx context.Context, name string, owner access.Principal, content contentFunc) (*models.PromptVersion, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := lockHead(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	template, vars, err := content(ctx, tx, head)
	if err != nil {
		return nil, err
	}

	if err := access.Own(owner, head.OwnerID, head.IsPublic, label(name)); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE prompt_versions SET active = false WHERE name = $1 AND active`, name); err != nil {
		return nil, fmt.Errorf("deactivate head: %w", err)
	}

	v, err := scanVersion(tx.QueryRow(ctx,
		`INSERT INTO prompt_versions (name, version, template, variables, owner_id, active, is_public)
		 VALUES ($1, $2, $3, $4, $5, true, $6)
		 RETURNING `+versionColumns,
		name, head.Version+1, template, vars, head.OwnerID, head.IsPublic,
	))
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// lockHead takes the per-name transaction lock and returns the highest version.
func lockHead(ctx context.Context, tx pgx.Tx, name string) (*models.PromptVersion, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return nil, fmt.Errorf("lock prompt: %w", err)
	}
	head, err := scanVersion(tx.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE name = $1 ORDER BY version DESC LIMIT 1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("%s not found", label(name))
	}
	if err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}
	return head, nil
}

func (s *Service) GetVersion(ctx context.Context, name string, version int, viewer access.Principal) (*models.PromptVersion, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE name = $1 AND version = $2`, name, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("version %d of %s not found", version, label(name))
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if err := access.Read(viewer, v.OwnerID, v.IsPublic, fmt.Sprintf("version %d of %s", version, label(name))); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) GetActive(ctx context.Context, name string, viewer access.Principal) (*models.PromptVersion, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE name = $1 AND active`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("%s not found", label(name))
	}
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	if err := access.Read(viewer, v.OwnerID, v.IsPublic, label(name)); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) Diff(ctx context.Context, name string, from, to int, viewer access.Principal) (*models.PromptDiff, error) {
	a, err := s.GetVersion(ctx, name, from, viewer)
	if err != nil {
		return nil, err
	}
	b, err := s.GetVersion(ctx, name, to, viewer)
	if err != nil {
		return nil, err
	}

	text, err := UnifiedDiff(name, from, to, a.Template, b.Template)
	if err != nil {
		return nil, fmt.Errorf("diff templates: %w", err)
	}
	return &models.PromptDiff{Name: name, From: from, To: to, Diff: text}, nil
}

// ListVersions returns the versions of name visible to viewer, newest first.
func (s *Service) ListVersions(ctx context.Context, name string, viewer access.Principal, f VersionFilter) (models.Page[models.PromptVersion], error) {
	var page models.Page[models.PromptVersion]

	var visible bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM prompt_versions WHERE name = $1 AND (owner_id = $2 OR is_public))`,
		name, viewer.ID,
	).Scan(&visible)
	if err != nil {
		return page, fmt.Errorf("check prompt: %w", err)
	}
	if !visible {
		return page, apperr.NotFound("%s not found", label(name))
	}

	w := database.NewWhere(name, viewer.ID).Raw("name = $1").Raw("(owner_id = $2 OR is_public)")
	if f.Active != nil {
		w.Add("active = ?", *f.Active)
	}
	if f.CreatedBy != nil {
		w.Add("owner_id::text = ?", *f.CreatedBy)
	}

	return s.page(ctx, w, "version DESC", clampLimit(f.Limit), max(f.Offset, 0))
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"version":    "version",
	"name":       "name",
}

// List is the cross-name listing.
func (s *Service) List(ctx context.Context, viewer access.Principal, f ListFilter) (models.Page[models.PromptVersion], error) {
	w := database.NewWhere()
	switch f.Scope {
	case "", "all":
		w.Add("(owner_id = ? OR is_public)", viewer.ID)
	case "public":
		w.Raw("is_public")
	case "private":
		w.Add("owner_id = ? AND NOT is_public", viewer.ID)
	case "owned":
		w.Add("owner_id = ?", viewer.ID)
	default:
		return models.Page[models.PromptVersion]{}, apperr.InvalidArgument("scope must be one of all, public, private, owned")
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		w.Add("strpos(lower(name), lower(?)) > 0", q)
	}
	if f.Active != nil {
		w.Add("active = ?", *f.Active)
	}
	if f.CreatedBy != nil {
		w.Add("owner_id::text = ?", *f.CreatedBy)
	}
	if f.LatestOnly {
		w.Raw("version = (SELECT max(p2.version) FROM prompt_versions p2 WHERE p2.name = prompt_versions.name)")
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		dir = "ASC"
	}
	order := fmt.Sprintf("%s %s, name ASC, version DESC", col, dir)

	return s.page(ctx, w, order, clampLimit(f.Limit), max(f.Offset, 0))
}

func (s *Service) page(ctx context.Context, w *database.Where, order string, limit, offset int) (models.Page[models.PromptVersion], error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM prompt_versions`+w.String(), w.Args()...).Scan(&total); err != nil {
		return models.Page[models.PromptVersion]{}, fmt.Errorf("count versions: %w", err)
	}

	where := w.String()
	limitArg, offsetArg := w.Arg(limit), w.Arg(offset)
	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions`+where+
			` ORDER BY `+order+` LIMIT `+limitArg+` OFFSET `+offsetArg,
		w.Args()...,
	)
	if err != nil {
		return models.Page[models.PromptVersion]{}, fmt.Errorf("list versions: %w", err)
	}
	items, err := collectVersions(rows)
	if err != nil {
		return models.Page[models.PromptVersion]{}, err
	}
	return models.NewPage(items, limit, offset, total), nil
}

// SetVisibility flips is_public on every version of name and returns the
// active row.
func (s *Service) SetVisibility(ctx context.Context, name string, owner access.Principal, isPublic bool) (*models.PromptVersion, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := lockHead(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if err := access.Own(owner, head.OwnerID, head.IsPublic, label(name)); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE prompt_versions SET is_public = $2 WHERE name = $1`, name, isPublic); err != nil {
		return nil, fmt.Errorf("update visibility: %w", err)
	}

	v, err := scanVersion(tx.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE name = $1 ORDER BY active DESC, version DESC LIMIT 1`, name))
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// Clone copies the active content of source into a fresh private chain
// owned by viewer.
func (s *Service) Clone(ctx context.Context, source string, viewer access.Principal, newName string) (*models.PromptVersion, error) {
	src, err := s.GetActive(ctx, source, viewer)
	if err != nil {
		return nil, err
	}

	base := cloneBase(source, newName)
	vars, _ := json.Marshal(src.Variables)

	for attempt := 0; attempt < cloneRetries; attempt++ {
		taken, err := s.takenNames(ctx, base)
		if err != nil {
			return nil, err
		}
		name := nextFreeName(base, taken)

		v, err := scanVersion(s.db.QueryRow(ctx,
			`INSERT INTO prompt_versions (name, version, template, variables, owner_id, active, is_public)
			 VALUES ($1, 1, $2, $3, $4, true, false)
			 RETURNING `+versionColumns,
			name, src.Template, vars, viewer.ID,
		))
		if err == nil {
			return v, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert clone: %w", err)
		}
	}
	return nil, apperr.Conflict("could not find a free name for clone of %s", label(source))
}

func (s *Service) takenNames(ctx context.Context, base string) (map[string]bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT name FROM prompt_versions WHERE name = $1 OR name LIKE $1 || '-%'`, base)
	if err != nil {
		return nil, fmt.Errorf("list clone names: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		taken[n] = true
	}
	return taken, rows.Err()
}

var errHasDeployments = apperr.Conflict("cannot delete prompt with existing deployments; remove deployments first")

// DeleteAllVersions removes every version of name together with its test
// cases, test runs and experiment policies. Deployed prompts cannot be deleted.
func (s *Service) DeleteAllVersions(ctx context.Context, name string, owner access.Principal) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := lockHead(ctx, tx, name)
	if err != nil {
		return 0, err
	}
	if err := access.Manage(owner, head.OwnerID, head.IsPublic, label(name)); err != nil {
		return 0, err
	}

	var deployed bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM deployments d JOIN prompt_versions pv ON pv.id = d.prompt_version_id
			WHERE pv.name = $1)`, name,
	).Scan(&deployed)
	if err != nil {
		return 0, fmt.Errorf("check deployments: %w", err)
	}
	if deployed {
		return 0, errHasDeployments
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM test_runs WHERE prompt_name = $1`, name)
	batch.Queue(`DELETE FROM test_cases WHERE prompt_name = $1`, name)
	batch.Queue(`DELETE FROM experiment_policies WHERE name_target = $1`, name)
	batch.Queue(`DELETE FROM experiment_assignments WHERE name_target = $1`, name)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("delete dependents: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM prompt_versions WHERE name = $1`, name)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return 0, errHasDeployments
		}
		return 0, fmt.Errorf("delete versions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if database.IsForeignKeyViolation(err) {
			return 0, errHasDeployments
		}
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
