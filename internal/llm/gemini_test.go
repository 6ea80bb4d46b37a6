package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-embedding-001")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"SEMANTIC_SIMILARITY"`)
		assert.Contains(t, string(body), "greet Ana")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{{"values": []float32{0.25, 0.5}}},
		})
	}))
	defer srv.Close()

	p, err := newGeminiProvider(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)

	resp, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Input: []string{"greet Ana"}})
	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "gemini-embedding-001", resp.Model)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float32{0.25, 0.5}, resp.Embeddings[0])
}
