// Package testrun manages per-prompt test suites: hand-written or generated
// cases and the recorded results of running them against a version.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const (
	caseColumns = `id, prompt_name, name, input_text, expected_output, category, auto_generated, created_by, created_at`
	runColumns  = `id, prompt_name, prompt_version, test_case_id, input_text, output_text, success,
		latency_ms, tokens_used, cost_cents, error_message, executed_by, executed_at`

	recentRuns        = 50
	defaultGenerate   = 5
	maxGenerate       = 20
	generateTemp      = 0.4
	generateMaxTokens = 2048
	maxCaseNameLength = 255
)

type Service struct {
	db       database.DB
	gen      llm.Generator
	executor *Executor
}

func NewService(db database.DB, gen llm.Generator, concurrency int) *Service {
	return &Service{
		db:       db,
		gen:      gen,
		executor: NewExecutor(gen, concurrency),
	}
}

type CaseRequest struct {
	Name           string              `json:"name"`
	InputText      string              `json:"input_text"`
	ExpectedOutput *string             `json:"expected_output"`
	Category       models.TestCategory `json:"category"`
	AutoGenerated  bool                `json:"auto_generated"`
}

type CaseUpdate struct {
	Name           *string              `json:"name"`
	InputText      *string              `json:"input_text"`
	ExpectedOutput *string              `json:"expected_output"`
	Category       *models.TestCategory `json:"category"`
}

type RunRequest struct {
	CaseIDs       []uuid.UUID `json:"case_ids"`
	PromptVersion int         `json:"prompt_version"`
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (*models.TestCase, error) {
	var c models.TestCase
	if err := row.Scan(&c.ID, &c.PromptName, &c.Name, &c.InputText, &c.ExpectedOutput, &c.Category,
		&c.AutoGenerated, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanRun(row scanner) (*models.TestRun, error) {
	var r models.TestRun
	if err := row.Scan(&r.ID, &r.PromptName, &r.PromptVersion, &r.TestCaseID, &r.InputText, &r.OutputText, &r.Success,
		&r.LatencyMs, &r.TokensUsed, &r.CostCents, &r.ErrorMessage, &r.ExecutedBy, &r.ExecutedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func label(name string) string {
	return fmt.Sprintf("prompt %q", name)
}

// managed returns the active version of name after checking that p may
// manage its test suite.
func (s *Service) managed(ctx context.Context, name string, p access.Principal) (*models.PromptVersion, error) {
	head, err := s.version(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	if err := access.Manage(p, head.OwnerID, head.IsPublic, label(name)); err != nil {
		return nil, err
	}
	return head, nil
}

// version reads one version of name without a visibility check; the caller
// applies its own rule. Version 0 means the active one.
func (s *Service) version(ctx context.Context, name string, version int) (*models.PromptVersion, error) {
	var v models.PromptVersion
	err := s.db.QueryRow(ctx,
		`SELECT id, name, version, template, variables, owner_id, active, is_public, created_at
		 FROM prompt_versions WHERE name = $1 AND ($2 = 0 OR version = $2)
		 ORDER BY active DESC, version DESC LIMIT 1`, name, version,
	).Scan(&v.ID, &v.Name, &v.Version, &v.Template, &v.Variables, &v.OwnerID, &v.Active, &v.IsPublic, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if version > 0 {
			return nil, apperr.NotFound("version %d of %s not found", version, label(name))
		}
		return nil, apperr.NotFound("%s not found", label(name))
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return &v, nil
}

// Suite returns the cases and the most recent runs for name. Admins may read
// any suite.
func (s *Service) Suite(ctx context.Context, name string, viewer access.Principal) (*models.TestSuite, error) {
	head, err := s.version(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin() {
		if err := access.Read(viewer, head.OwnerID, head.IsPublic, label(name)); err != nil {
			return nil, err
		}
	}

	cases, err := s.cases(ctx, name, nil)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM test_runs WHERE prompt_name = $1 ORDER BY executed_at DESC LIMIT $2`,
		name, recentRuns)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.TestRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vars := head.Variables
	if vars == nil {
		vars = []string{}
	}
	return &models.TestSuite{
		PromptName:    name,
		PromptVersion: head.Version,
		Template:      head.Template,
		Variables:     vars,
		Cases:         cases,
		Runs:          runs,
	}, nil
}

func (s *Service) cases(ctx context.Context, name string, ids []uuid.UUID) ([]models.TestCase, error) {
	w := database.NewWhere()
	w.Add("prompt_name = ?", name)
	if len(ids) > 0 {
		w.Add("id = ANY(?)", ids)
	}

	rows, err := s.db.Query(ctx, `SELECT `+caseColumns+` FROM test_cases`+w.String()+` ORDER BY created_at DESC, id`, w.Args()...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	cases := []models.TestCase{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

func validateCase(req *CaseRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return apperr.InvalidArgument("test case name is required")
	}
	if len(req.Name) > maxCaseNameLength {
		return apperr.InvalidArgument("test case name exceeds %d characters", maxCaseNameLength)
	}
	if strings.TrimSpace(req.InputText) == "" {
		return apperr.InvalidArgument("input_text is required")
	}
	if req.Category == "" {
		req.Category = models.CategoryHappyPath
	}
	if !req.Category.Valid() {
		return apperr.InvalidArgument("unknown category %q", req.Category)
	}
	return nil
}

func (s *Service) CreateCase(ctx context.Context, name string, req CaseRequest, owner access.Principal) (*models.TestCase, error) {
	if err := validateCase(&req); err != nil {
		return nil, err
	}
	if _, err := s.managed(ctx, name, owner); err != nil {
		return nil, err
	}

	c, err := scanCase(s.db.QueryRow(ctx,
		`INSERT INTO test_cases (prompt_name, name, input_text, expected_output, category, auto_generated, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+caseColumns,
		name, req.Name, req.InputText, req.ExpectedOutput, req.Category, req.AutoGenerated, owner.ID,
	))
	if err != nil {
		return nil, fmt.Errorf("insert test case: %w", err)
	}
	return c, nil
}

// caseForManage loads a case and checks p may manage its prompt.
func (s *Service) caseForManage(ctx context.Context, id uuid.UUID, p access.Principal) (*models.TestCase, error) {
	c, err := scanCase(s.db.QueryRow(ctx, `SELECT `+caseColumns+` FROM test_cases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("test case %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get test case: %w", err)
	}
	if _, err := s.managed(ctx, c.PromptName, p); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) UpdateCase(ctx context.Context, id uuid.UUID, upd CaseUpdate, owner access.Principal) (*models.TestCase, error) {
	c, err := s.caseForManage(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	req := CaseRequest{Name: c.Name, InputText: c.InputText, ExpectedOutput: c.ExpectedOutput, Category: c.Category}
	if upd.Name != nil {
		req.Name = *upd.Name
	}
	if upd.InputText != nil {
		req.InputText = *upd.InputText
	}
	if upd.ExpectedOutput != nil {
		req.ExpectedOutput = upd.ExpectedOutput
	}
	if upd.Category != nil {
		req.Category = *upd.Category
	}
	if err := validateCase(&req); err != nil {
		return nil, err
	}

	updated, err := scanCase(s.db.QueryRow(ctx,
		`UPDATE test_cases SET name = $2, input_text = $3, expected_output = $4, category = $5
		 WHERE id = $1
		 RETURNING `+caseColumns,
		id, req.Name, req.InputText, req.ExpectedOutput, req.Category,
	))
	if err != nil {
		return nil, fmt.Errorf("update test case: %w", err)
	}
	return updated, nil
}

func (s *Service) DeleteCase(ctx context.Context, id uuid.UUID, owner access.Principal) error {
	if _, err := s.caseForManage(ctx, id, owner); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM test_cases WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete test case: %w", err)
	}
	return nil
}

func generationPrompt(template string, variables []string, count int) string {
	vars := "none"
	if len(variables) > 0 {
		vars = strings.Join(variables, ", ")
	}
	return fmt.Sprintf(`You are a QA engineer for prompt-based systems.
Generate diverse, well-structured JSON test cases for the given prompt template.
Each test case must include: name, category, input (object keyed by variable), expected_output.
Categories must be one of: happy_path, edge_case, boundary, negative.
Return strictly valid JSON array.

PROMPT TEMPLATE:
%s

VARIABLES: %s

NUMBER OF TEST CASES: %d
`, template, vars, count)
}

// GenerateCases asks the generator for count cases and stores the ones that
// parse. count outside 1..20 is rejected; 0 means the default.
func (s *Service) GenerateCases(ctx context.Context, name string, count int, owner access.Principal) ([]models.TestCase, error) {
	if count == 0 {
		count = defaultGenerate
	}
	if count < 1 || count > maxGenerate {
		return nil, apperr.InvalidArgument("count must be between 1 and %d", maxGenerate)
	}

	head, err := s.managed(ctx, name, owner)
	if err != nil {
		return nil, err
	}

	req := llm.UserPrompt(generationPrompt(head.Template, head.Variables, count), generateTemp)
	req.MaxTokens = generateMaxTokens
	resp, err := s.gen.Chat(ctx, req)
	if err != nil {
		return nil, apperr.External("generate test cases", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, apperr.External("generate test cases", llm.Malformed(resp.Provider, errors.New("empty response")))
	}

	drafts, err := parseCases(resp.Content)
	if err != nil {
		return nil, apperr.External("generate test cases", llm.Malformed(resp.Provider, err))
	}
	if len(drafts) == 0 {
		return []models.TestCase{}, nil
	}

	batch := &pgx.Batch{}
	created := make([]models.TestCase, len(drafts))
	for i, d := range drafts {
		batch.Queue(
			`INSERT INTO test_cases (prompt_name, name, input_text, expected_output, category, auto_generated, created_by)
			 VALUES ($1, $2, $3, $4, $5, true, $6)
			 RETURNING `+caseColumns,
			name, truncate(d.Name, maxCaseNameLength), d.InputText, d.ExpectedOutput, d.Category, owner.ID,
		).QueryRow(func(row pgx.Row) error {
			c, err := scanCase(row)
			if err != nil {
				return err
			}
			created[i] = *c
			return nil
		})
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert generated cases: %w", err)
	}
	return created, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RunTests executes the selected cases (all when CaseIDs is empty) against
// the requested version, or the active one, and records every run.
func (s *Service) RunTests(ctx context.Context, name string, req RunRequest, owner access.Principal) ([]models.TestRun, error) {
	head, err := s.managed(ctx, name, owner)
	if err != nil {
		return nil, err
	}

	target := head
	if req.PromptVersion > 0 && req.PromptVersion != head.Version {
		target, err = s.version(ctx, name, req.PromptVersion)
		if err != nil {
			return nil, err
		}
	}

	cases, err := s.cases(ctx, name, req.CaseIDs)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, apperr.NotFound("no test cases found for %s", label(name))
	}

	runs := s.executor.Execute(ctx, target.Template, cases)

	batch := &pgx.Batch{}
	for i := range runs {
		r := &runs[i]
		batch.Queue(
			`INSERT INTO test_runs (prompt_name, prompt_version, test_case_id, input_text, output_text, success,
			     latency_ms, tokens_used, cost_cents, error_message, executed_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING `+runColumns,
			name, target.Version, r.TestCaseID, r.InputText, r.OutputText, r.Success,
			r.LatencyMs, r.TokensUsed, r.CostCents, r.ErrorMessage, owner.ID,
		).QueryRow(func(row pgx.Row) error {
			saved, err := scanRun(row)
			if err != nil {
				return err
			}
			*r = *saved
			return nil
		})
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert test runs: %w", err)
	}
	return runs, nil
}
