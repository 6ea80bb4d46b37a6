package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetry(3, time.Millisecond)}, opts...)
	return New(srv.URL+"/", opts...)
}

func TestLoginSetsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ana@example.com", body["email"])
			json.NewEncoder(w).Encode(models.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "bearer"})
		case "/api/v1/auth/me":
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(models.User{Email: "ana@example.com", Role: "editor"})
		default:
			http.NotFound(w, r)
		}
	})

	pair, err := c.Login(context.Background(), "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", pair.RefreshToken)
	assert.Equal(t, "access-1", c.Token())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "editor", me.Role)
}

func TestAPIKeyHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pvh_key", r.Header.Get("X-API-Key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.PromptVersion{Name: "greet", Version: 2, Active: true})
	}, WithAPIKey("pvh_key"), WithToken("ignored"))

	v, err := c.GetPrompt(context.Background(), "greet")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
}

func TestRetriesIdempotentRequests(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "1", r.URL.Query().Get("from"))
		assert.Equal(t, "2", r.URL.Query().Get("to"))
		json.NewEncoder(w).Encode(models.PromptDiff{Name: "greet", From: 1, To: 2, Diff: "-Hi\n+Hello\n"})
	})

	d, err := c.Diff(context.Background(), "greet", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "-Hi\n+Hello\n", d.Diff)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoesNotRetryPostOrClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"error": "provider down"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": `prompt "nope" not found`})
	})

	_, err := c.Rollback(context.Background(), "greet", 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.EqualValues(t, 1, calls.Load())

	calls.Store(0)
	_, err = c.GetPrompt(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), `prompt "nope" not found`)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSetPolicyEncodesVersionKeys(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ab/policies", r.URL.Path)
		var body struct {
			PromptName string         `json:"prompt_name"`
			Weights    map[string]int `json:"weights"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]int{"1": 30, "2": 70}, body.Weights)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.ExperimentPolicy{NameTarget: body.PromptName, Weights: map[int]int{1: 30, 2: 70}})
	})

	p, err := c.SetPolicy(context.Background(), "greet", map[int]int{1: 30, 2: 70}, false)
	require.NoError(t, err)
	assert.Equal(t, 70, p.Weights[2])
}

func TestListOptionsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "owned", q.Get("scope"))
		assert.Equal(t, "true", q.Get("latest_only"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Empty(t, q.Get("offset"))
		json.NewEncoder(w).Encode(models.NewPage([]models.PromptVersion{{Name: "greet"}}, 10, 0, 1))
	})

	page, err := c.ListPrompts(context.Background(), ListOptions{Scope: "owned", LatestOnly: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "greet", page.Items[0].Name)
}

func TestPathEscaping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/deployments/staging%2Feu", r.URL.EscapedPath())
		json.NewEncoder(w).Encode(models.Deployment{Environment: "staging/eu"})
	})

	d, err := c.CurrentDeployment(context.Background(), "staging/eu")
	require.NoError(t, err)
	assert.Equal(t, "staging/eu", d.Environment)
}
