package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database/dbtest"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
)

func ptr[T any](v T) *T { return &v }

func TestRecordAndAggregate(t *testing.T) {
	db := dbtest.New(t)
	owner := access.Principal{ID: dbtest.CreateUser(t, db, "editor"), Role: access.RoleEditor}
	other := access.Principal{ID: dbtest.CreateUser(t, db, "viewer"), Role: access.RoleViewer}
	prompts := prompt.NewService(db)
	svc := NewService(db)
	ctx := context.Background()

	_, err := prompts.Create(ctx, prompt.CreateRequest{Name: "greet", Template: "Hi"}, owner)
	require.NoError(t, err)
	_, err = prompts.Update(ctx, "greet", prompt.UpdateRequest{Template: "Hello"}, owner)
	require.NoError(t, err)

	ev, err := svc.Record(ctx, RecordRequest{PromptName: "greet", Version: 1, Success: ptr(false), Cost: ptr(2.0)}, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.PromptVersion)
	assert.False(t, ev.Success)

	for i := 0; i < 3; i++ {
		ev, err = svc.Record(ctx, RecordRequest{PromptName: "greet", LatencyMs: ptr(100 * (i + 1))}, owner)
		require.NoError(t, err)
		assert.Equal(t, 2, ev.PromptVersion)
		assert.True(t, ev.Success)
	}

	_, err = svc.Record(ctx, RecordRequest{PromptName: "greet"}, other)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Record(ctx, RecordRequest{PromptName: "greet", Version: 9}, owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	rows, err := svc.ByVersion(ctx, "greet", nil, nil, owner)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Count)
	assert.Zero(t, rows[0].SuccessRate)
	require.NotNil(t, rows[0].AvgCost)
	assert.InDelta(t, 2.0, *rows[0].AvgCost, 1e-9)
	assert.Equal(t, 3, rows[1].Count)
	assert.InDelta(t, 1.0, rows[1].SuccessRate, 1e-9)
	require.NotNil(t, rows[1].AvgLatency)
	assert.InDelta(t, 200.0, *rows[1].AvgLatency, 1e-9)
	assert.Nil(t, rows[1].AvgCost)

	bounded, err := svc.ByVersion(ctx, "greet", ptr(2), nil, owner)
	require.NoError(t, err)
	assert.Len(t, bounded, 1)

	_, err = svc.ByVersion(ctx, "greet", nil, nil, other)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
