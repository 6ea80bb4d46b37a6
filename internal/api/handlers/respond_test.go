package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperr.NotFound("prompt %q not found", "greet"), http.StatusNotFound},
		{"forbidden", apperr.Forbidden("not yours"), http.StatusForbidden},
		{"exists", apperr.AlreadyExists("taken"), http.StatusConflict},
		{"conflict", apperr.Conflict("deployed"), http.StatusConflict},
		{"invalid", apperr.InvalidArgument("bad weight"), http.StatusBadRequest},
		{"rate limited", apperr.RateLimited("slow down"), http.StatusTooManyRequests},
		{"unauthenticated", apperr.Unauthenticated("who"), http.StatusUnauthorized},
		{"provider call", apperr.External("generate", &llm.Error{Kind: llm.KindCall, Err: errors.New("502")}), http.StatusBadGateway},
		{"provider config", apperr.External("generate", &llm.Error{Kind: llm.KindConfig, Err: errors.New("no key")}), http.StatusServiceUnavailable},
		{"malformed", apperr.External("generate", llm.Malformed("gemini", errors.New("empty"))), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("update: %w", apperr.NotFound("gone")), http.StatusNotFound},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorStatus(tt.err))
		})
	}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestWriteError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/prompts/greet", nil)

	rec := httptest.NewRecorder()
	writeError(rec, r, fmt.Errorf("get: %w", apperr.NotFound("prompt %q not found", "greet")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, `prompt "greet" not found`, errorBody(t, rec))

	rec = httptest.NewRecorder()
	writeError(rec, r, errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", errorBody(t, rec))

	rec = httptest.NewRecorder()
	writeError(rec, r, apperr.External("generate test cases", errors.New("quota exceeded")))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, errorBody(t, rec), "quota exceeded")
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"greet"}`))
	require.True(t, decodeJSON(rec, r, &dst))
	assert.Equal(t, "greet", dst.Name)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.True(t, decodeJSON(rec, r, &dst))

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	assert.False(t, decodeJSON(rec, r, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPathParams(t *testing.T) {
	mux := chi.NewRouter()
	mux.Get("/p/{version}", func(w http.ResponseWriter, r *http.Request) {
		v, ok := pathInt(w, r, "version")
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"version": v})
	})

	for path, want := range map[string]int{"/p/3": 200, "/p/0": 400, "/p/x": 400} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{"database": pingerFunc(func() error { return nil })})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Pinger{
		"database": pingerFunc(func() error { return nil }),
		"redis":    pingerFunc(func() error { return errors.New("dial tcp: refused") }),
	})
	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy: dial tcp")

	rec = httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type pingerFunc func() error

func (f pingerFunc) Ping(context.Context) error { return f() }
