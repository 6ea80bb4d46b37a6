package testrun

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/models"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
)

const (
	runTemperature = 0.2
	runMaxTokens   = 1024
)

// Executor fills a template with each case's inputs and runs it through the
// generator, at most limit calls at a time.
type Executor struct {
	gen   llm.Generator
	limit int
}

func NewExecutor(gen llm.Generator, limit int) *Executor {
	if limit < 1 {
		limit = 1
	}
	return &Executor{gen: gen, limit: limit}
}

// Execute returns one run per case, in case order. Provider failures are
// recorded on the run rather than returned.
func (e *Executor) Execute(ctx context.Context, template string, cases []models.TestCase) []models.TestRun {
	runs := make([]models.TestRun, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i := range cases {
		g.Go(func() error {
			runs[i] = e.executeOne(gctx, template, cases[i])
			return nil
		})
	}
	_ = g.Wait()

	return runs
}

func (e *Executor) executeOne(ctx context.Context, template string, tc models.TestCase) models.TestRun {
	id := tc.ID
	run := models.TestRun{
		TestCaseID: &id,
		InputText:  tc.InputText,
	}

	filled := prompt.Substitute(template, inputVariables(tc.InputText))
	req := llm.UserPrompt(filled, runTemperature)
	req.MaxTokens = runMaxTokens

	start := time.Now()
	resp, err := e.gen.Chat(ctx, req)
	latency := int(time.Since(start).Milliseconds())
	run.LatencyMs = &latency

	if err != nil {
		slog.Warn("test case execution failed", "case_id", tc.ID, "error", err)
		msg := err.Error()
		failed := false
		run.ErrorMessage = &msg
		run.Success = &failed
		return run
	}

	out := resp.Content
	run.OutputText = &out
	if resp.TotalTokens > 0 {
		tokens := resp.TotalTokens
		run.TokensUsed = &tokens
	}
	cost := llm.CostCents(resp.Model, resp.InputTokens, resp.OutputTokens)
	run.CostCents = &cost

	if tc.ExpectedOutput != nil && *tc.ExpectedOutput != "" {
		ok := strings.TrimSpace(out) == strings.TrimSpace(*tc.ExpectedOutput)
		run.Success = &ok
	}
	return run
}
