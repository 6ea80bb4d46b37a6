package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/database/dbtest"
	"github.com/lioarce01/prompt-version-hub/internal/deployment"
	"github.com/lioarce01/prompt-version-hub/internal/experiment"
	"github.com/lioarce01/prompt-version-hub/internal/models"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
	"github.com/lioarce01/prompt-version-hub/internal/usage"
)

func ptr[T any](v T) *T { return &v }

func TestBuildOverview(t *testing.T) {
	owner := uuid.New()
	assignments := map[armKey]int{{"greet", 1}: 3, {"greet", 2}: 7, {"other", 1}: 99}
	rates := map[armKey]float64{{"greet", 2}: 0.5}

	got := buildOverview("greet", owner, map[int]int{2: 75, 1: 25}, assignments, rates)

	assert.Equal(t, "greet", got.Experiment)
	assert.Equal(t, owner, got.OwnerID)
	require.Len(t, got.Arms, 2)
	assert.Equal(t, models.ExperimentArm{Version: 1, Weight: 0.25, Assignments: 3}, got.Arms[0])
	assert.Equal(t, 2, got.Arms[1].Version)
	assert.InDelta(t, 0.75, got.Arms[1].Weight, 1e-9)
	require.NotNil(t, got.Arms[1].SuccessRate)
	assert.InDelta(t, 0.5, *got.Arms[1].SuccessRate, 1e-9)
}

func TestDashboard(t *testing.T) {
	db := dbtest.New(t)
	owner := access.Principal{ID: dbtest.CreateUser(t, db, "editor"), Role: access.RoleEditor}
	ctx := context.Background()

	prompts := prompt.NewService(db)
	_, err := prompts.Create(ctx, prompt.CreateRequest{Name: "greet", Template: "Hi {{name}}"}, owner)
	require.NoError(t, err)
	_, err = prompts.Update(ctx, "greet", prompt.UpdateRequest{Template: "Hello {{name}}"}, owner)
	require.NoError(t, err)
	_, err = prompts.Create(ctx, prompt.CreateRequest{Name: "quiet", Template: "..."}, owner)
	require.NoError(t, err)

	_, err = deployment.NewService(db).Create(ctx, "greet", 2, "prod", owner)
	require.NoError(t, err)

	_, err = experiment.NewService(db).SetPolicy(ctx, "greet", map[string]int{"1": 50, "2": 50}, owner, false)
	require.NoError(t, err)

	rec := usage.NewService(db)
	for _, ok := range []bool{true, true, false} {
		_, err = rec.Record(ctx, usage.RecordRequest{PromptName: "greet", Success: ptr(ok), LatencyMs: ptr(100), Cost: ptr(0.5)}, owner)
		require.NoError(t, err)
	}

	svc := NewService(db)

	t.Run("summary", func(t *testing.T) {
		s, err := svc.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Summary{Prompts: 2, ActivePrompts: 2, Deployments: 1, Experiments: 1, Usage7d: 3}, *s)
	})

	t.Run("trend", func(t *testing.T) {
		points, err := svc.UsageTrend(ctx, 0, BucketDay)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, time.Now().UTC().Format("2006-01-02"), points[0].Start)
		assert.Equal(t, 3, points[0].Executions)
		assert.Equal(t, 1, points[0].Failures)
		require.NotNil(t, points[0].AvgLatency)
		assert.InDelta(t, 100.0, *points[0].AvgLatency, 1e-9)
	})

	t.Run("velocity", func(t *testing.T) {
		points, err := svc.VersionVelocity(ctx, 100)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, time.Now().UTC().Format("2006-01"), points[0].Month)
		assert.Equal(t, 3, points[0].Releases)
	})

	t.Run("top prompts", func(t *testing.T) {
		top, err := svc.TopPrompts(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "greet", top[0].Name)
		assert.Equal(t, 3, top[0].Executions)
		assert.InDelta(t, 2.0/3.0, top[0].SuccessRate, 1e-9)
	})

	t.Run("experiments", func(t *testing.T) {
		_, err := experiment.NewService(db).Assign(ctx, experiment.AssignRequest{Experiment: "exp", NameTarget: "greet", SubjectID: "alice"}, owner)
		require.NoError(t, err)

		overview, err := svc.ExperimentsOverview(ctx)
		require.NoError(t, err)
		require.Len(t, overview, 1)
		arms := overview[0].Arms
		require.Len(t, arms, 2)
		assert.InDelta(t, 0.5, arms[0].Weight, 1e-9)
		assert.Nil(t, arms[0].SuccessRate)
		require.NotNil(t, arms[1].SuccessRate)
		assert.InDelta(t, 2.0/3.0, *arms[1].SuccessRate, 1e-9)
		assert.Equal(t, 1, arms[0].Assignments+arms[1].Assignments)
	})
}
