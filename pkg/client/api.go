package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/models"
)

type CreatePrompt struct {
	Name      string   `json:"name"`
	Template  string   `json:"template"`
	Variables []string `json:"variables,omitempty"`
}

type UpdatePrompt struct {
	Template  string   `json:"template"`
	Variables []string `json:"variables,omitempty"`
}

// ListOptions filters ListPrompts. Zero values are omitted.
type ListOptions struct {
	Scope      string
	Query      string
	LatestOnly bool
	SortBy     string
	Order      string
	Limit      int
	Offset     int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("scope", o.Scope)
	set("q", o.Query)
	set("sort_by", o.SortBy)
	set("order", o.Order)
	if o.LatestOnly {
		v.Set("latest_only", "true")
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	return v
}

type Rendered struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Rendered string `json:"rendered"`
}

type RunSummary struct {
	Items     []models.TestRun `json:"items"`
	Count     int              `json:"count"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Unchecked int              `json:"unchecked"`
}

type RecordUsage struct {
	PromptName string   `json:"prompt_name"`
	Version    int      `json:"version,omitempty"`
	SubjectID  *string  `json:"user_id,omitempty"`
	Output     *string  `json:"output,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	LatencyMs  *int     `json:"latency_ms,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`
}

// Login exchanges credentials for a token pair and uses the access token
// from then on.
func (c *Client) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	var pair models.TokenPair
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/auth/login", body, &pair); err != nil {
		return nil, err
	}
	c.SetToken(pair.AccessToken)
	return &pair, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	var pair models.TokenPair
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/auth/refresh", body, &pair); err != nil {
		return nil, err
	}
	c.SetToken(pair.AccessToken)
	return &pair, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.get(ctx, apiPrefix+"/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) CreatePrompt(ctx context.Context, req CreatePrompt) (*models.PromptVersion, error) {
	var v models.PromptVersion
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/prompts", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) UpdatePrompt(ctx context.Context, name string, req UpdatePrompt) (*models.PromptVersion, error) {
	var v models.PromptVersion
	if err := c.do(ctx, http.MethodPut, apiPrefix+"/prompts/"+escape(name), req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetPrompt returns the active version of name.
func (c *Client) GetPrompt(ctx context.Context, name string) (*models.PromptVersion, error) {
	var v models.PromptVersion
	if err := c.get(ctx, apiPrefix+"/prompts/"+escape(name), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ListPrompts(ctx context.Context, opts ListOptions) (*models.Page[models.PromptVersion], error) {
	var page models.Page[models.PromptVersion]
	if err := c.get(ctx, apiPrefix+"/prompts", opts.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) ListVersions(ctx context.Context, name string) (*models.Page[models.PromptVersion], error) {
	var page models.Page[models.PromptVersion]
	if err := c.get(ctx, apiPrefix+"/prompts/"+escape(name)+"/versions", nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetVersion(ctx context.Context, name string, version int) (*models.PromptVersion, error) {
	var v models.PromptVersion
	path := apiPrefix + "/prompts/" + escape(name) + "/versions/" + strconv.Itoa(version)
	if err := c.get(ctx, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Rollback(ctx context.Context, name string, version int) (*models.PromptVersion, error) {
	var v models.PromptVersion
	path := apiPrefix + "/prompts/" + escape(name) + "/rollback/" + strconv.Itoa(version)
	if err := c.do(ctx, http.MethodPost, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Diff(ctx context.Context, name string, from, to int) (*models.PromptDiff, error) {
	var d models.PromptDiff
	q := url.Values{"from": {strconv.Itoa(from)}, "to": {strconv.Itoa(to)}}
	if err := c.get(ctx, apiPrefix+"/prompts/"+escape(name)+"/diff", q, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) SetVisibility(ctx context.Context, name string, public bool) (*models.PromptVersion, error) {
	var v models.PromptVersion
	body := map[string]bool{"is_public": public}
	if err := c.do(ctx, http.MethodPut, apiPrefix+"/prompts/"+escape(name)+"/visibility", body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Clone(ctx context.Context, source, newName string) (*models.PromptVersion, error) {
	var v models.PromptVersion
	body := map[string]string{"new_name": newName}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/prompts/"+escape(source)+"/clone", body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Render fills version (0 for the active one) with variables.
func (c *Client) Render(ctx context.Context, name string, version int, variables map[string]string) (*Rendered, error) {
	var out Rendered
	body := map[string]any{"version": version, "variables": variables}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/prompts/"+escape(name)+"/render", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePrompt removes every version of name and returns how many went.
func (c *Client) DeletePrompt(ctx context.Context, name string) (int, error) {
	var out struct {
		Deleted int `json:"deleted_versions"`
	}
	if err := c.do(ctx, http.MethodDelete, apiPrefix+"/prompts/"+escape(name), nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (c *Client) Deploy(ctx context.Context, name string, version int, environment string) (*models.Deployment, error) {
	var d models.Deployment
	body := map[string]any{"prompt_name": name, "version": version, "environment": environment}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/deployments", body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) CurrentDeployment(ctx context.Context, environment string) (*models.Deployment, error) {
	var d models.Deployment
	if err := c.get(ctx, apiPrefix+"/deployments/"+escape(environment), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) DeploymentHistory(ctx context.Context, environment string, limit int) (*models.Page[models.Deployment], error) {
	var page models.Page[models.Deployment]
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := c.get(ctx, apiPrefix+"/deployments/history/"+escape(environment), q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SetPolicy replaces the weights of the experiment on name. Keys are version
// numbers.
func (c *Client) SetPolicy(ctx context.Context, name string, weights map[int]int, public bool) (*models.ExperimentPolicy, error) {
	w := make(map[string]int, len(weights))
	for v, weight := range weights {
		w[strconv.Itoa(v)] = weight
	}
	var p models.ExperimentPolicy
	body := map[string]any{"prompt_name": name, "weights": w, "is_public": public}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/ab/policies", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Assign returns the subject's version in experiment. Repeated calls return
// the same version.
func (c *Client) Assign(ctx context.Context, experiment, name, subject string) (*models.ExperimentAssignment, error) {
	var a models.ExperimentAssignment
	body := map[string]string{"experiment_name": experiment, "prompt_name": name, "user_id": subject}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/ab/assign", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ExperimentStats(ctx context.Context, experiment string) (*models.ExperimentStats, error) {
	var s models.ExperimentStats
	if err := c.get(ctx, apiPrefix+"/ab/experiments/"+escape(experiment)+"/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) RecordUsage(ctx context.Context, req RecordUsage) (*models.UsageEvent, error) {
	var ev models.UsageEvent
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/usage", req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) TestSuite(ctx context.Context, name string) (*models.TestSuite, error) {
	var s models.TestSuite
	if err := c.get(ctx, apiPrefix+"/tests/"+escape(name), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RunTests executes cases of name against version (0 for the active one).
// An empty caseIDs runs the whole suite.
func (c *Client) RunTests(ctx context.Context, name string, version int, caseIDs []uuid.UUID) (*RunSummary, error) {
	var out RunSummary
	body := map[string]any{"prompt_version": version, "case_ids": caseIDs}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/tests/"+escape(name)+"/run", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Summary(ctx context.Context) (*models.Summary, error) {
	var s models.Summary
	if err := c.get(ctx, apiPrefix+"/kpis/summary", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
