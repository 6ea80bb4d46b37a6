package experiment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database/dbtest"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
)

type fixture struct {
	svc     *Service
	prompts *prompt.Service
	owner   access.Principal
	other   access.Principal
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := dbtest.New(t)
	f := fixture{
		svc:     NewService(db),
		prompts: prompt.NewService(db),
		owner:   access.Principal{ID: dbtest.CreateUser(t, db, "editor"), Role: access.RoleEditor},
		other:   access.Principal{ID: dbtest.CreateUser(t, db, "editor"), Role: access.RoleEditor},
	}

	ctx := context.Background()
	_, err := f.prompts.Create(ctx, prompt.CreateRequest{Name: "greet", Template: "Hi {{name}}"}, f.owner)
	require.NoError(t, err)
	_, err = f.prompts.Update(ctx, "greet", prompt.UpdateRequest{Template: "Hello {{name}}!"}, f.owner)
	require.NoError(t, err)
	return f
}

func TestNormalizeWeights(t *testing.T) {
	w, err := NormalizeWeights(map[string]int{"1": 30, " 2 ": 70})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 30, 2: 70}, w)

	for _, bad := range []map[string]int{
		{},
		{"1": 0},
		{"1": -5},
		{"v1": 10},
		{"0": 10},
		{"1": 10, "01": 20},
	} {
		_, err := NormalizeWeights(bad)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "%v", bad)
	}
}

func TestBuildStatsRounding(t *testing.T) {
	stats := buildStats("exp", map[int]int{1: 1, 2: 2}, 3)
	assert.Equal(t, 33.33, stats.Variants[1].Percentage)
	assert.Equal(t, 66.67, stats.Variants[2].Percentage)
	assert.Equal(t, 3, stats.TotalAssignments)
}

func TestSetPolicyUpsertAndValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p1, err := f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 30, "2": 70}, f.owner, false)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 30, 2: 70}, p1.Weights)

	p2, err := f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 50, "2": 50}, f.owner, true)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.True(t, p2.IsPublic)
	assert.Equal(t, map[int]int{1: 50, 2: 50}, p2.Weights)

	_, err = f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 50, "9": 50}, f.owner, false)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.svc.SetPolicy(ctx, "missing", map[string]int{"1": 1}, f.owner, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// private prompt is invisible to other users
	_, err = f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 1}, f.other, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssignIsStableAcrossPolicyChanges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 30, "2": 70}, f.owner, false)
	require.NoError(t, err)

	req := AssignRequest{Experiment: "exp1", NameTarget: "greet", SubjectID: "alice"}
	first, err := f.svc.Assign(ctx, req, f.owner)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, ChooseVariant("alice", map[int]int{1: 30, 2: 70}), first.AssignedVersion)

	again, err := f.svc.Assign(ctx, req, f.owner)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.AssignedVersion, again.AssignedVersion)

	// flip the weights entirely towards the other arm
	other := 3 - first.AssignedVersion
	_, err = f.svc.SetPolicy(ctx, "greet", map[string]int{fmt.Sprint(other): 100}, f.owner, false)
	require.NoError(t, err)

	after, err := f.svc.Assign(ctx, req, f.owner)
	require.NoError(t, err)
	assert.Equal(t, first.AssignedVersion, after.AssignedVersion)

	bob, err := f.svc.Assign(ctx, AssignRequest{Experiment: "exp1", NameTarget: "greet", SubjectID: "bob"}, f.owner)
	require.NoError(t, err)
	assert.Equal(t, other, bob.AssignedVersion)
}

func TestAssignRequiresVisiblePolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	req := AssignRequest{Experiment: "exp1", NameTarget: "greet", SubjectID: "alice"}
	_, err := f.svc.Assign(ctx, req, f.owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 1, "2": 1}, f.owner, false)
	require.NoError(t, err)

	_, err = f.svc.Assign(ctx, req, f.other)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 1, "2": 1}, f.owner, true)
	require.NoError(t, err)

	a, err := f.svc.Assign(ctx, req, f.other)
	require.NoError(t, err)
	assert.Contains(t, []int{1, 2}, a.AssignedVersion)

	_, err = f.svc.Assign(ctx, AssignRequest{NameTarget: "greet", SubjectID: "x"}, f.owner)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestConcurrentFirstAssignment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 50, "2": 50}, f.owner, false)
	require.NoError(t, err)

	req := AssignRequest{Experiment: "race", NameTarget: "greet", SubjectID: "carol"}
	results := make([]int, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := f.svc.Assign(ctx, req, f.owner)
			if assert.NoError(t, err) {
				results[i] = a.AssignedVersion
			}
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, results[0], v)
	}

	stats, err := f.svc.Stats(ctx, "race", f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAssignments)
}

func TestStatsAndDeletePolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	policy, err := f.svc.SetPolicy(ctx, "greet", map[string]int{"1": 50, "2": 50}, f.owner, false)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := f.svc.Assign(ctx, AssignRequest{Experiment: "exp", NameTarget: "greet", SubjectID: fmt.Sprintf("s%d", i)}, f.owner)
		require.NoError(t, err)
	}

	stats, err := f.svc.Stats(ctx, "exp", f.owner)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.TotalAssignments)
	sum := 0.0
	for _, v := range stats.Variants {
		sum += v.Percentage
	}
	assert.InDelta(t, 100, sum, 0.02)

	hidden, err := f.svc.Stats(ctx, "exp", f.other)
	require.NoError(t, err)
	assert.Equal(t, 0, hidden.TotalAssignments)

	ok, err := f.svc.DeletePolicy(ctx, policy.ID, f.other)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.DeletePolicy(ctx, policy.ID, f.owner)
	require.NoError(t, err)
	assert.True(t, ok)

	policies, err := f.svc.ListPolicies(ctx, f.owner, true)
	require.NoError(t, err)
	assert.Empty(t, policies)
}
