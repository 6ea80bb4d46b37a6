package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/config"
)

type fakeProvider struct {
	name     string
	failures int
	failWith func() error
	calls    int
	models   []string
	lastReq  ChatRequest
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return f.models }

func (f *fakeProvider) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if f.calls <= f.failures {
		return nil, f.failWith()
	}
	return &ChatResponse{Provider: f.name, Model: req.Model, Content: "ok from " + f.name}, nil
}

func (f *fakeProvider) GenerateEmbedding(_ context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	return &EmbeddingResponse{Provider: f.name, Model: req.Model, Embeddings: [][]float32{{1, 2}}}, nil
}

func transient() error { return callError("fake", errors.New("503")) }

func testGateway(providers ...Provider) *Gateway {
	g := newGateway(config.LLMConfig{
		DefaultProvider: "primary",
		DefaultModel:    "model-a",
		MaxRetries:      2,
		EmbeddingModel:  "embed-1",
	})
	g.retryDelay = time.Millisecond
	for _, p := range providers {
		g.Register(p)
	}
	return g
}

func TestGatewayRetriesTransientErrors(t *testing.T) {
	primary := &fakeProvider{name: "primary", failures: 2, failWith: transient}
	g := testGateway(primary)

	resp, err := g.Chat(context.Background(), UserPrompt("hi", 0))
	require.NoError(t, err)
	assert.Equal(t, "ok from primary", resp.Content)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, "model-a", primary.lastReq.Model)
}

func TestGatewayDoesNotRetryMalformed(t *testing.T) {
	primary := &fakeProvider{name: "primary", failures: 5, failWith: func() error {
		return Malformed("primary", errors.New("empty"))
	}}
	g := testGateway(primary)

	_, err := g.Chat(context.Background(), UserPrompt("hi", 0))
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
	assert.Equal(t, 1, primary.calls)
}

func TestGatewayFallsBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", failures: 10, failWith: transient}
	backup := &fakeProvider{name: "backup", models: []string{"backup-small"}}
	g := testGateway(primary, backup)
	g.fallbackProvider = "backup"

	resp, err := g.Chat(context.Background(), UserPrompt("hi", 0))
	require.NoError(t, err)
	assert.Equal(t, "ok from backup", resp.Content)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, "backup-small", backup.lastReq.Model)
}

func TestGatewayUnknownProvider(t *testing.T) {
	g := testGateway()

	_, err := g.Chat(context.Background(), UserPrompt("hi", 0))
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestGatewayEmbedPicksConfiguredProvider(t *testing.T) {
	g := testGateway(&fakeProvider{name: "ollama"})

	resp, err := g.Embed(context.Background(), EmbeddingRequest{Input: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, "embed-1", resp.Model)
	assert.True(t, g.CanEmbed())

	assert.False(t, testGateway(&fakeProvider{name: "anthropic"}).CanEmbed())
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.0003+0.0025, CalculateCost("gemini-2.5-flash", 1000, 1000), 1e-9)
	assert.InDelta(t, 0.28, CostCents("gemini-2.5-flash", 1000, 1000), 1e-9)
	assert.Zero(t, CalculateCost("unknown-model", 1000, 1000))
}

func TestErrorFormatting(t *testing.T) {
	err := callError("gemini", errors.New("timeout"))
	assert.Equal(t, "llm call error (gemini): timeout", err.Error())
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
