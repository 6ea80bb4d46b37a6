// Package aigen drafts new prompt templates from a short brief using the
// configured LLM.
package aigen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
	"github.com/lioarce01/prompt-version-hub/pkg/tokenizer"
)

const (
	temperature = 0.7
	maxTokens   = 4000

	systemInstruction = "You are an expert prompt engineer specializing in creating production-ready AI prompts. " +
		"You create clear, effective, and well-structured prompts that follow best practices."
)

var (
	tones   = []string{"professional", "casual", "friendly", "technical", "creative", "formal"}
	formats = []string{"text", "json", "markdown", "html", "code", "list"}
)

type Request struct {
	Goal           string `json:"goal"`
	Industry       string `json:"industry,omitempty"`
	TargetAudience string `json:"target_audience,omitempty"`
	Tone           string `json:"tone"`
	OutputFormat   string `json:"output_format"`
	Context        string `json:"context,omitempty"`
	Constraints    string `json:"constraints,omitempty"`
	Examples       string `json:"examples,omitempty"`
}

type Metadata struct {
	CharCount       int    `json:"char_count"`
	WordCount       int    `json:"word_count"`
	LineCount       int    `json:"line_count"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Complexity      string `json:"complexity"`
}

type Response struct {
	PromptTemplate string   `json:"prompt_template"`
	Variables      []string `json:"variables"`
	Metadata       Metadata `json:"metadata"`
	Suggestions    []string `json:"suggestions"`
}

type Service struct {
	db         database.DB
	gen        llm.Generator
	dailyLimit int
}

// NewService builds a generator limited to dailyLimit generations per user
// per rolling day; 0 disables the quota.
func NewService(db database.DB, gen llm.Generator, dailyLimit int) *Service {
	return &Service{db: db, gen: gen, dailyLimit: dailyLimit}
}

func checkLength(field, v string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(v)
	if n < minLen || n > maxLen {
		if minLen > 0 {
			return apperr.InvalidArgument("%s must be %d to %d characters", field, minLen, maxLen)
		}
		return apperr.InvalidArgument("%s must be at most %d characters", field, maxLen)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate fills defaults and rejects out-of-range fields.
func (r *Request) Validate() error {
	r.Goal = strings.TrimSpace(r.Goal)
	if r.Tone == "" {
		r.Tone = "professional"
	}
	if r.OutputFormat == "" {
		r.OutputFormat = "text"
	}
	if !oneOf(r.Tone, tones) {
		return apperr.InvalidArgument("tone must be one of %s", strings.Join(tones, ", "))
	}
	if !oneOf(r.OutputFormat, formats) {
		return apperr.InvalidArgument("output_format must be one of %s", strings.Join(formats, ", "))
	}

	checks := []struct {
		field    string
		value    string
		min, max int
	}{
		{"goal", r.Goal, 10, 1000},
		{"industry", r.Industry, 0, 100},
		{"target_audience", r.TargetAudience, 0, 200},
		{"context", r.Context, 0, 2000},
		{"constraints", r.Constraints, 0, 1000},
		{"examples", r.Examples, 0, 2000},
	}
	for _, c := range checks {
		if err := checkLength(c.field, c.value, c.min, c.max); err != nil {
			return err
		}
	}
	return nil
}

// Generate drafts a template for req on behalf of user.
func (s *Service) Generate(ctx context.Context, req Request, user access.Principal) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, user); err != nil {
		return nil, err
	}

	resp, err := s.gen.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: metaPrompt(req)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, apperr.External("generate prompt", err)
	}
	template := strings.TrimSpace(resp.Content)
	if template == "" {
		return nil, apperr.External("generate prompt", llm.Malformed(resp.Provider, fmt.Errorf("no text content")))
	}

	variables := prompt.ExtractVariables(template)
	out := &Response{
		PromptTemplate: template,
		Variables:      variables,
		Metadata:       metadata(template),
		Suggestions:    suggestions(req, template, variables),
	}

	s.record(ctx, user, req, out, resp)
	return out, nil
}

func (s *Service) checkQuota(ctx context.Context, user access.Principal) error {
	if s.dailyLimit <= 0 {
		return nil
	}
	var used int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM ai_generations WHERE user_id = $1 AND created_at >= now() - interval '1 day'`,
		user.ID,
	).Scan(&used)
	if err != nil {
		return fmt.Errorf("count generations: %w", err)
	}
	if used >= s.dailyLimit {
		return apperr.RateLimited("daily AI generation limit reached (%d requests)", s.dailyLimit)
	}
	return nil
}

// record stores the generation for quota and analytics. Failures are logged only.
func (s *Service) record(ctx context.Context, user access.Principal, req Request, out *Response, resp *llm.ChatResponse) {
	reqJSON, _ := json.Marshal(req)
	outJSON, _ := json.Marshal(out)
	varsJSON, _ := json.Marshal(out.Variables)

	_, err := s.db.Exec(ctx,
		`INSERT INTO ai_generations (user_id, request_data, response_data, prompt_template, variables,
		     provider, model, tokens_used, cost_cents)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, reqJSON, outJSON, out.PromptTemplate, varsJSON,
		resp.Provider, resp.Model, resp.TotalTokens, llm.CostCents(resp.Model, resp.InputTokens, resp.OutputTokens),
	)
	if err != nil {
		slog.Warn("failed to record AI generation", "user_id", user.ID, "error", err)
	}
}

func metaPrompt(r Request) string {
	var b strings.Builder
	b.WriteString("You are an expert prompt engineer specializing in creating production-ready AI prompts. ")
	b.WriteString("Your task is to create a professional, well-structured prompt template based on the following specifications:\n\n")
	fmt.Fprintf(&b, "**Primary Goal**: %s\n", r.Goal)
	if r.Industry != "" {
		fmt.Fprintf(&b, "\n**Industry/Domain**: %s", r.Industry)
	}
	if r.TargetAudience != "" {
		fmt.Fprintf(&b, "\n**Target Audience**: %s", r.TargetAudience)
	}
	fmt.Fprintf(&b, "\n**Desired Tone**: %s", r.Tone)
	fmt.Fprintf(&b, "\n**Expected Output Format**: %s", r.OutputFormat)
	if r.Context != "" {
		fmt.Fprintf(&b, "\n\n**Additional Context**:\n%s", r.Context)
	}
	if r.Constraints != "" {
		fmt.Fprintf(&b, "\n\n**Constraints and Limitations**:\n%s", r.Constraints)
	}
	if r.Examples != "" {
		fmt.Fprintf(&b, "\n\n**Example Inputs/Outputs**:\n%s", r.Examples)
	}

	fmt.Fprintf(&b, `

**Your Task**:
Generate a professional, production-ready prompt template that:

1. Is clear, specific, and actionable
2. Includes dynamic variables in {{variable_name}} format (e.g., {{product_name}}, {{user_input}})
3. Follows prompt engineering practice: a clear role, specific instructions, an output format specification, examples where useful, and edge case handling
4. Is well-structured with clear sections (markdown is allowed)
5. Is optimized for the specified output format and tone
6. Includes appropriate context and constraints

**Important Guidelines**:
- Use {{variable_name}} syntax for any dynamic content that should be filled in at runtime
- Make the prompt self-contained and clear
- Include instructions on how to handle edge cases or missing information
- Ensure the tone matches the specification (%s)
- Format the output instructions to match the desired format (%s)

Provide ONLY the prompt template itself, with no additional commentary, explanations, or meta-text.`, r.Tone, r.OutputFormat)
	return b.String()
}

func complexity(words int) string {
	switch {
	case words < 50:
		return "simple"
	case words < 150:
		return "medium"
	default:
		return "complex"
	}
}

func metadata(template string) Metadata {
	words := len(strings.Fields(template))
	return Metadata{
		CharCount:       utf8.RuneCountInString(template),
		WordCount:       words,
		LineCount:       strings.Count(template, "\n") + 1,
		EstimatedTokens: tokenizer.Estimate(template),
		Complexity:      complexity(words),
	}
}

func suggestions(r Request, template string, variables []string) []string {
	out := []string{}
	if r.Examples == "" {
		out = append(out, "Consider adding example inputs/outputs for better AI understanding and consistency")
	}
	if r.Constraints == "" {
		out = append(out, "You might want to add constraints like max word count, forbidden topics, or specific requirements")
	}

	switch {
	case len(variables) == 0:
		out = append(out, "No dynamic variables detected. Consider making the prompt more flexible with {{variables}}")
	case len(variables) > 10:
		out = append(out, "This prompt has many variables. Consider if all are necessary or if some can be combined")
	}

	switch n := utf8.RuneCountInString(template); {
	case n > 2500:
		out = append(out, "This prompt is quite long. Consider splitting it into multiple specialized prompts")
	case n < 100:
		out = append(out, "This prompt is very short. Consider adding more context or examples for better results")
	}

	if utf8.RuneCountInString(r.Goal) > 200 && r.Context == "" {
		out = append(out, "For complex goals, providing additional context can significantly improve the prompt quality")
	}
	if r.Industry == "" && r.TargetAudience == "" {
		out = append(out, "Specifying an industry or target audience can help create more tailored prompts")
	}
	return out
}
