package testrun

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database/dbtest"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/models"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
)

type scriptedGenerator struct {
	content string
	err     error
	last    llm.ChatRequest
}

func (g *scriptedGenerator) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return &llm.ChatResponse{Provider: "fake", Model: "fake", Content: g.content}, nil
}

type fixture struct {
	svc    *Service
	gen    *scriptedGenerator
	owner  access.Principal
	viewer access.Principal
	admin  access.Principal
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := dbtest.New(t)
	f := fixture{
		gen:    &scriptedGenerator{},
		owner:  access.Principal{ID: dbtest.CreateUser(t, db, "editor"), Role: access.RoleEditor},
		viewer: access.Principal{ID: dbtest.CreateUser(t, db, "viewer"), Role: access.RoleViewer},
		admin:  access.Principal{ID: dbtest.CreateUser(t, db, "admin"), Role: access.RoleAdmin},
	}
	f.svc = NewService(db, f.gen, 2)

	prompts := prompt.NewService(db)
	ctx := context.Background()
	_, err := prompts.Create(ctx, prompt.CreateRequest{Name: "greet", Template: "Hi {{name}}"}, f.owner)
	require.NoError(t, err)
	_, err = prompts.Update(ctx, "greet", prompt.UpdateRequest{Template: "Hello {{name}}"}, f.owner)
	require.NoError(t, err)
	return f
}

func TestCaseLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateCase(ctx, "greet", CaseRequest{Name: "ada", InputText: `{"name":"Ada"}`}, f.viewer)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.CreateCase(ctx, "greet", CaseRequest{Name: "ada", InputText: `{}`, Category: "smoke"}, f.owner)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	c, err := f.svc.CreateCase(ctx, "greet", CaseRequest{Name: " ada ", InputText: `{"name":"Ada"}`}, f.owner)
	require.NoError(t, err)
	assert.Equal(t, "ada", c.Name)
	assert.Equal(t, models.CategoryHappyPath, c.Category)

	edge := models.CategoryEdgeCase
	expected := "Hello Ada"
	c, err = f.svc.UpdateCase(ctx, c.ID, CaseUpdate{Category: &edge, ExpectedOutput: &expected}, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryEdgeCase, c.Category)
	assert.Equal(t, "Hello Ada", *c.ExpectedOutput)

	suite, err := f.svc.Suite(ctx, "greet", f.owner)
	require.NoError(t, err)
	assert.Equal(t, 2, suite.PromptVersion)
	assert.Equal(t, "Hello {{name}}", suite.Template)
	assert.Equal(t, []string{"name"}, suite.Variables)
	require.Len(t, suite.Cases, 1)

	_, err = f.svc.Suite(ctx, "greet", f.viewer)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Suite(ctx, "greet", f.admin)
	assert.NoError(t, err)

	require.NoError(t, f.svc.DeleteCase(ctx, c.ID, f.owner))
	assert.ErrorIs(t, f.svc.DeleteCase(ctx, c.ID, f.owner), apperr.ErrNotFound)
}

func TestGenerateCases(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.gen.content = "```json\n[" +
		`{"name": "ada", "category": "happy_path", "input": {"name": "Ada"}, "expected_output": "Hello Ada"},` +
		`{"name": "broken", "category": "nope"},` +
		`{"category": "negative", "inputs": {"name": ""}},` +
		"]\n```"

	cases, err := f.svc.GenerateCases(ctx, "greet", 3, f.owner)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.True(t, cases[0].AutoGenerated)
	assert.Equal(t, `{"name":"Ada"}`, cases[0].InputText)
	assert.Equal(t, defaultCaseName, cases[1].Name)
	assert.Equal(t, models.CategoryNegative, cases[1].Category)

	assert.InDelta(t, generateTemp, f.gen.last.Temperature, 1e-9)
	assert.Contains(t, f.gen.last.Messages[0].Content, "NUMBER OF TEST CASES: 3")
	assert.Contains(t, f.gen.last.Messages[0].Content, "VARIABLES: name")

	_, err = f.svc.GenerateCases(ctx, "greet", 21, f.owner)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	f.gen.content = "I cannot help with that."
	_, err = f.svc.GenerateCases(ctx, "greet", 0, f.owner)
	assert.ErrorIs(t, err, apperr.ErrExternalService)
	assert.Equal(t, llm.KindMalformed, llm.KindOf(err))

	f.gen.content = "   "
	_, err = f.svc.GenerateCases(ctx, "greet", 0, f.owner)
	assert.ErrorIs(t, err, apperr.ErrExternalService)

	f.gen.err = errors.New("quota")
	_, err = f.svc.GenerateCases(ctx, "greet", 0, f.owner)
	assert.ErrorIs(t, err, apperr.ErrExternalService)
}

func TestGenerateCasesRequiresOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	prompts := prompt.NewService(f.svc.db)
	_, err := prompts.SetVisibility(ctx, "greet", f.owner, true)
	require.NoError(t, err)

	_, err = f.svc.GenerateCases(ctx, "greet", 1, f.viewer)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestRunTests(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.RunTests(ctx, "greet", RunRequest{}, f.owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ada, err := f.svc.CreateCase(ctx, "greet", CaseRequest{Name: "ada", InputText: `{"name":"Ada"}`, ExpectedOutput: strPtr("Hi Ada")}, f.owner)
	require.NoError(t, err)
	_, err = f.svc.CreateCase(ctx, "greet", CaseRequest{Name: "free", InputText: "plain"}, f.owner)
	require.NoError(t, err)

	f.gen.content = " Hi Ada "
	runs, err := f.svc.RunTests(ctx, "greet", RunRequest{PromptVersion: 1}, f.owner)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, 1, r.PromptVersion)
		assert.Equal(t, f.owner.ID, r.ExecutedBy)
	}

	runs, err = f.svc.RunTests(ctx, "greet", RunRequest{CaseIDs: []uuid.UUID{ada.ID}}, f.owner)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].PromptVersion)
	require.NotNil(t, runs[0].Success)
	assert.True(t, *runs[0].Success)
	assert.Equal(t, "Hello Ada", f.gen.last.Messages[0].Content)

	_, err = f.svc.RunTests(ctx, "greet", RunRequest{PromptVersion: 7}, f.owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	suite, err := f.svc.Suite(ctx, "greet", f.owner)
	require.NoError(t, err)
	assert.Len(t, suite.Runs, 3)
}
