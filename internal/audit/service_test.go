package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/database/dbtest"
)

func TestLogAndList(t *testing.T) {
	db := dbtest.New(t)
	svc := NewService(db)
	editor := access.Principal{ID: dbtest.CreateUser(t, db, "editor"), Role: access.RoleEditor}
	ctx := access.WithPrincipal(context.Background(), editor)

	require.NoError(t, svc.Log(ctx, LogEntry{
		Action:       ActionPromptCreate,
		ResourceType: ResourcePrompt,
		ResourceName: "greet",
		Details:      map[string]any{"version": 1},
		IPAddress:    "203.0.113.7",
	}))
	require.NoError(t, svc.Log(ctx, LogEntry{Action: ActionPromptUpdate, ResourceType: ResourcePrompt, ResourceName: "greet", IPAddress: "not-an-ip"}))
	// system actions carry no principal
	svc.Record(context.Background(), LogEntry{Action: ActionTestsRun, ResourceType: ResourceTestSuite, ResourceName: "greet"})

	all, err := svc.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, defaultLimit, all.Limit)

	creates, err := svc.List(context.Background(), Query{Action: ActionPromptCreate})
	require.NoError(t, err)
	require.Len(t, creates.Items, 1)
	entry := creates.Items[0]
	require.NotNil(t, entry.UserID)
	assert.Equal(t, editor.ID, *entry.UserID)
	assert.Equal(t, "greet", entry.ResourceName)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "203.0.113.7", *entry.IPAddress)

	var details map[string]any
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.EqualValues(t, 1, details["version"])

	runs, err := svc.List(context.Background(), Query{Action: ActionTestsRun})
	require.NoError(t, err)
	require.Len(t, runs.Items, 1)
	assert.Nil(t, runs.Items[0].UserID)
	assert.Nil(t, runs.Items[0].IPAddress)

	future := time.Now().Add(time.Hour)
	none, err := svc.List(context.Background(), Query{StartDate: &future})
	require.NoError(t, err)
	assert.Empty(t, none.Items)
	assert.Zero(t, none.Total)

	paged, err := svc.List(context.Background(), Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, paged.Items, 2)
	assert.True(t, paged.HasNext)
}
