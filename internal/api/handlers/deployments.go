package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lioarce01/prompt-version-hub/internal/audit"
	"github.com/lioarce01/prompt-version-hub/internal/deployment"
	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

type DeploymentHandler struct {
	svc    *deployment.Service
	notify *Notifier
}

func NewDeploymentHandler(svc *deployment.Service, notify *Notifier) *DeploymentHandler {
	return &DeploymentHandler{svc: svc, notify: notify}
}

func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PromptName  string `json:"prompt_name"`
		Version     int    `json:"version"`
		Environment string `json:"environment"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PromptName == "" || req.Version < 1 {
		badRequest(w, "prompt_name and a positive version are required")
		return
	}

	p := principal(r)
	d, err := h.svc.Create(r.Context(), req.PromptName, req.Version, req.Environment, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.record(r, audit.ActionDeploymentCreate, audit.ResourceDeployment, d.PromptName,
		map[string]any{"version": d.PromptVersion, "environment": d.Environment})
	h.notify.publish(r.Context(), p.ID, webhook.EventDeploymentCreated, d)
	writeJSON(w, http.StatusCreated, d)
}

func (h *DeploymentHandler) Current(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	d, err := h.svc.Current(r.Context(), env, principal(r), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if d == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no deployment for environment " + env})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeploymentHandler) History(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.History(r.Context(), chi.URLParam(r, "env"), principal(r),
		r.URL.Query().Get("name"), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *DeploymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	deleted, err := h.svc.Delete(r.Context(), id, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "deployment not found"})
		return
	}
	h.notify.record(r, audit.ActionDeploymentDelete, audit.ResourceDeployment, id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}
