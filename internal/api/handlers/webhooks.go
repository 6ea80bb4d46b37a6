package handlers

import (
	"net/http"

	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

type WebhookHandler struct {
	svc *webhook.Service
}

func NewWebhookHandler(svc *webhook.Service) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhook.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wh, err := h.svc.Create(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// the secret is never readable again
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": wh,
		"secret":  wh.Secret,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.svc.List(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": webhooks, "count": len(webhooks)})
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id, principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	deliveries, err := h.svc.Deliveries(r.Context(), id, principal(r), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": deliveries, "count": len(deliveries)})
}
