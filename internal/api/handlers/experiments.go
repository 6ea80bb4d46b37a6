package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lioarce01/prompt-version-hub/internal/audit"
	"github.com/lioarce01/prompt-version-hub/internal/experiment"
	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

type ExperimentHandler struct {
	svc    *experiment.Service
	notify *Notifier
}

func NewExperimentHandler(svc *experiment.Service, notify *Notifier) *ExperimentHandler {
	return &ExperimentHandler{svc: svc, notify: notify}
}

type setPolicyRequest struct {
	PromptName string         `json:"prompt_name"`
	Weights    map[string]int `json:"weights"`
	IsPublic   bool           `json:"is_public"`
}

func (h *ExperimentHandler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var req setPolicyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PromptName == "" {
		badRequest(w, "prompt_name is required")
		return
	}

	p := principal(r)
	policy, err := h.svc.SetPolicy(r.Context(), req.PromptName, req.Weights, p, req.IsPublic)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.record(r, audit.ActionPolicySet, audit.ResourceExperiment, req.PromptName, map[string]any{"weights": policy.Weights})
	h.notify.publish(r.Context(), p.ID, webhook.EventPolicyUpdated, policy)
	writeJSON(w, http.StatusOK, policy)
}

func (h *ExperimentHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	includePublic, ok := queryBool(w, r, "include_public")
	if !ok {
		return
	}
	policies, err := h.svc.ListPolicies(r.Context(), principal(r), includePublic != nil && *includePublic)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": policies, "count": len(policies)})
}

func (h *ExperimentHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.svc.GetPolicy(r.Context(), chi.URLParam(r, "name"), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *ExperimentHandler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	deleted, err := h.svc.DeletePolicy(r.Context(), id, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "policy not found"})
		return
	}
	h.notify.record(r, audit.ActionPolicyDelete, audit.ResourceExperiment, id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ExperimentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req experiment.AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.Assign(r.Context(), req, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if a.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, a)
}

func (h *ExperimentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), chi.URLParam(r, "name"), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
