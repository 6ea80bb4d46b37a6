// Package analytics computes dashboard aggregates over prompts, deployments,
// experiments and usage events. Nothing here writes.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const (
	BucketDay  = "day"
	BucketWeek = "week"

	defaultTrendDays   = 42
	defaultMonths      = 6
	defaultTopLimit    = 10
	defaultTopPeriod   = 30
	maxTrendDays       = 365
	maxMonths          = 24
	maxTopLimit        = 50
	summaryUsageDays   = 7
	daysPerMonthApprox = 30
)

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Summary(ctx context.Context) (*models.Summary, error) {
	var out models.Summary
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(DISTINCT name) FROM prompt_versions),
			(SELECT count(*) FROM prompt_versions p
			   WHERE p.active AND p.version = (SELECT max(version) FROM prompt_versions WHERE name = p.name)),
			(SELECT count(*) FROM deployments),
			(SELECT count(*) FROM experiment_policies),
			(SELECT count(*) FROM usage_events WHERE created_at >= now() - make_interval(days => $1))`,
		summaryUsageDays,
	).Scan(&out.Prompts, &out.ActivePrompts, &out.Deployments, &out.Experiments, &out.Usage7d)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return &out, nil
}

// UsageTrend buckets usage events of the last periodDays by day or week.
// Out-of-range arguments fall back to the defaults.
func (s *Service) UsageTrend(ctx context.Context, periodDays int, bucket string) ([]models.TrendPoint, error) {
	if periodDays < 1 || periodDays > maxTrendDays {
		periodDays = defaultTrendDays
	}
	if bucket != BucketDay {
		bucket = BucketWeek
	}

	rows, err := s.db.Query(ctx, `
		SELECT to_char(date_trunc($1, created_at), 'YYYY-MM-DD') AS start,
		       count(*),
		       count(*) FILTER (WHERE NOT success),
		       avg(latency_ms)::float8,
		       avg(cost)
		FROM usage_events
		WHERE created_at >= now() - make_interval(days => $2)
		GROUP BY start
		ORDER BY start`,
		bucket, periodDays,
	)
	if err != nil {
		return nil, fmt.Errorf("usage trend: %w", err)
	}
	defer rows.Close()

	points := []models.TrendPoint{}
	for rows.Next() {
		var p models.TrendPoint
		if err := rows.Scan(&p.Start, &p.Executions, &p.Failures, &p.AvgLatency, &p.AvgCost); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// VersionVelocity counts versions created per calendar month over the last
// months*30 days.
func (s *Service) VersionVelocity(ctx context.Context, months int) ([]models.VelocityPoint, error) {
	if months < 1 || months > maxMonths {
		months = defaultMonths
	}

	rows, err := s.db.Query(ctx, `
		SELECT to_char(date_trunc('month', created_at), 'YYYY-MM') AS month, count(*)
		FROM prompt_versions
		WHERE created_at >= now() - make_interval(days => $1)
		GROUP BY month
		ORDER BY month`,
		months*daysPerMonthApprox,
	)
	if err != nil {
		return nil, fmt.Errorf("version velocity: %w", err)
	}
	defer rows.Close()

	points := []models.VelocityPoint{}
	for rows.Next() {
		var p models.VelocityPoint
		if err := rows.Scan(&p.Month, &p.Releases); err != nil {
			return nil, fmt.Errorf("scan velocity: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) TopPrompts(ctx context.Context, limit, periodDays int) ([]models.TopPrompt, error) {
	if limit < 1 || limit > maxTopLimit {
		limit = defaultTopLimit
	}
	if periodDays < 1 || periodDays > maxTrendDays {
		periodDays = defaultTopPeriod
	}

	rows, err := s.db.Query(ctx, `
		SELECT p.name,
		       count(e.id) AS executions,
		       (count(*) FILTER (WHERE e.success))::float8 / count(e.id),
		       avg(e.cost),
		       (SELECT max(created_at) FROM prompt_versions WHERE name = p.name)
		FROM usage_events e
		JOIN prompt_versions p ON p.id = e.prompt_version_id
		WHERE e.created_at >= now() - make_interval(days => $1)
		GROUP BY p.name
		ORDER BY executions DESC, p.name
		LIMIT $2`,
		periodDays, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("top prompts: %w", err)
	}
	defer rows.Close()

	items := []models.TopPrompt{}
	for rows.Next() {
		var t models.TopPrompt
		if err := rows.Scan(&t.Name, &t.Executions, &t.SuccessRate, &t.AvgCost, &t.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan top prompt: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

type armKey struct {
	name    string
	version int
}

// ExperimentsOverview recomputes every policy's arms from live assignment and
// usage counts.
func (s *Service) ExperimentsOverview(ctx context.Context) ([]models.ExperimentOverview, error) {
	type policy struct {
		name    string
		owner   uuid.UUID
		weights map[int]int
	}

	rows, err := s.db.Query(ctx, `SELECT name_target, owner_id, weights FROM experiment_policies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	var policies []policy
	for rows.Next() {
		var p policy
		if err := rows.Scan(&p.name, &p.owner, &p.weights); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	assignments, err := s.assignmentCounts(ctx)
	if err != nil {
		return nil, err
	}
	rates, err := s.successRates(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ExperimentOverview, 0, len(policies))
	for _, p := range policies {
		out = append(out, buildOverview(p.name, p.owner, p.weights, assignments, rates))
	}
	return out, nil
}

func buildOverview(name string, owner uuid.UUID, weights map[int]int, assignments map[armKey]int, rates map[armKey]float64) models.ExperimentOverview {
	total := 0
	for _, w := range weights {
		total += w
	}

	arms := make([]models.ExperimentArm, 0, len(weights))
	for v, w := range weights {
		arm := models.ExperimentArm{
			Version:     v,
			Assignments: assignments[armKey{name, v}],
		}
		if total > 0 {
			arm.Weight = float64(w) / float64(total)
		}
		if rate, ok := rates[armKey{name, v}]; ok {
			arm.SuccessRate = &rate
		}
		arms = append(arms, arm)
	}
	sort.Slice(arms, func(i, j int) bool { return arms[i].Version < arms[j].Version })

	return models.ExperimentOverview{
		Experiment: name,
		Prompt:     name,
		OwnerID:    owner,
		Arms:       arms,
	}
}

func (s *Service) assignmentCounts(ctx context.Context) (map[armKey]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name_target, assigned_version, count(*) FROM experiment_assignments GROUP BY name_target, assigned_version`)
	if err != nil {
		return nil, fmt.Errorf("count assignments: %w", err)
	}
	defer rows.Close()

	counts := map[armKey]int{}
	for rows.Next() {
		var k armKey
		var n int
		if err := rows.Scan(&k.name, &k.version, &n); err != nil {
			return nil, fmt.Errorf("scan assignment count: %w", err)
		}
		counts[k] = n
	}
	return counts, rows.Err()
}

func (s *Service) successRates(ctx context.Context) (map[armKey]float64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.name, p.version, (count(*) FILTER (WHERE e.success))::float8 / count(*)
		FROM usage_events e
		JOIN prompt_versions p ON p.id = e.prompt_version_id
		WHERE p.name IN (SELECT name_target FROM experiment_policies)
		GROUP BY p.name, p.version`)
	if err != nil {
		return nil, fmt.Errorf("success rates: %w", err)
	}
	defer rows.Close()

	rates := map[armKey]float64{}
	for rows.Next() {
		var k armKey
		var r float64
		if err := rows.Scan(&k.name, &k.version, &r); err != nil {
			return nil, fmt.Errorf("scan success rate: %w", err)
		}
		rates[k] = r
	}
	return rates, rows.Err()
}
