package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorStatus(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindAlreadyExists, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindExternalService:
		if llm.KindOf(err) == llm.KindConfig {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status. Internal errors are logged and their
// message is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.KindExternalService {
		msg = appErr.Msg
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"error", err,
		)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

// principal is set by the auth middleware on every /api/v1 route that
// reaches a handler.
func principal(r *http.Request) access.Principal {
	p, _ := access.FromContext(r.Context())
	return p
}

func pathInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil || n < 1 {
		badRequest(w, "invalid "+key)
		return 0, false
	}
	return n, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		badRequest(w, "invalid "+key)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}

func queryIntPtr(w http.ResponseWriter, r *http.Request, key string) (*int, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		badRequest(w, "invalid "+key)
		return nil, false
	}
	return &n, true
}

func queryBool(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		badRequest(w, "invalid "+key)
		return nil, false
	}
	return &b, true
}

func queryString(r *http.Request, key string) *string {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return nil
	}
	return &s
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
