package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

type KeyResolver interface {
	Resolve(ctx context.Context, plain string) (*models.User, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Middleware authenticates requests by API key or bearer token and stores
// the resulting principal in the request context.
type Middleware struct {
	keys      KeyResolver
	users     UserLookup
	issuer    *Issuer
	keyHeader string
}

func NewMiddleware(keys KeyResolver, users UserLookup, issuer *Issuer, keyHeader string) *Middleware {
	if keyHeader == "" {
		keyHeader = "X-API-Key"
	}
	return &Middleware{keys: keys, users: users, issuer: issuer, keyHeader: keyHeader}
}

// Authenticate tries the API key header first, then the bearer token. A
// request already carrying a principal passes through untouched.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := access.FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get(m.keyHeader); key != "" {
			u, err := m.keys.Resolve(r.Context(), key)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), Principal(u))))
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		id, _, err := m.issuer.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// role comes from the row, not the token, so demotions apply immediately
		u, err := m.users.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "user not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), Principal(u))))
	})
}

// RequireRole rejects principals whose role is not listed.
func RequireRole(roles ...access.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := access.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
