package handlers

import (
	"net/http"
	"time"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/auth"
	"github.com/lioarce01/prompt-version-hub/internal/user"
)

type AuthHandler struct {
	auth  *auth.Service
	keys  *auth.APIKeys
	users *user.Service
}

func NewAuthHandler(a *auth.Service, keys *auth.APIKeys, users *user.Service) *AuthHandler {
	return &AuthHandler{auth: a, keys: keys, users: users}
}

type credentials struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     access.Role `json:"role,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), principal(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	plain, key, err := h.keys.Create(r.Context(), principal(r).ID, req.Name, req.ExpiresAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"api_key": key, "key": plain})
}

func (h *AuthHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context(), principal(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": keys, "count": len(keys)})
}

func (h *AuthHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	revoked, err := h.keys.Revoke(r.Context(), id, principal(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !revoked {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "api key not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
