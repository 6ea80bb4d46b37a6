package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lioarce01/prompt-version-hub/internal/audit"
	"github.com/lioarce01/prompt-version-hub/internal/models"
	"github.com/lioarce01/prompt-version-hub/internal/prompt"
	"github.com/lioarce01/prompt-version-hub/internal/webhook"
)

type PromptHandler struct {
	svc    *prompt.Service
	index  *prompt.SimilarityIndex
	notify *Notifier
}

func NewPromptHandler(svc *prompt.Service, index *prompt.SimilarityIndex, notify *Notifier) *PromptHandler {
	return &PromptHandler{svc: svc, index: index, notify: notify}
}

func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req prompt.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.svc.Create(r.Context(), req, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.versionCreated(r, audit.ActionPromptCreate, v)
	writeJSON(w, http.StatusCreated, v)
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	active, ok := queryBool(w, r, "active")
	if !ok {
		return
	}
	latest, ok := queryBool(w, r, "latest_only")
	if !ok {
		return
	}
	q := r.URL.Query()
	f := prompt.ListFilter{
		Scope:      q.Get("scope"),
		Query:      q.Get("q"),
		Active:     active,
		CreatedBy:  queryString(r, "created_by"),
		LatestOnly: latest != nil && *latest,
		SortBy:     q.Get("sort_by"),
		Order:      q.Get("order"),
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
	}

	page, err := h.svc.List(r.Context(), principal(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *PromptHandler) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "similarity search is not configured"})
		return
	}
	results, err := h.index.Search(r.Context(), principal(r), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": results, "count": len(results)})
}

func (h *PromptHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetActive(r.Context(), chi.URLParam(r, "name"), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *PromptHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req prompt.UpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.svc.Update(r.Context(), chi.URLParam(r, "name"), req, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.versionCreated(r, audit.ActionPromptUpdate, v)
	writeJSON(w, http.StatusOK, v)
}

func (h *PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p := principal(r)
	n, err := h.svc.DeleteAllVersions(r.Context(), name, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.record(r, audit.ActionPromptDelete, audit.ResourcePrompt, name, map[string]any{"versions": n})
	h.notify.publish(r.Context(), p.ID, webhook.EventPromptDeleted, map[string]any{"name": name, "versions_deleted": n})
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "deleted_versions": n})
}

func (h *PromptHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	active, ok := queryBool(w, r, "active")
	if !ok {
		return
	}
	f := prompt.VersionFilter{
		Active:    active,
		CreatedBy: queryString(r, "created_by"),
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
	}
	page, err := h.svc.ListVersions(r.Context(), chi.URLParam(r, "name"), principal(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *PromptHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := pathInt(w, r, "version")
	if !ok {
		return
	}
	v, err := h.svc.GetVersion(r.Context(), chi.URLParam(r, "name"), version, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *PromptHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	target, ok := pathInt(w, r, "version")
	if !ok {
		return
	}
	v, err := h.svc.Rollback(r.Context(), chi.URLParam(r, "name"), target, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.versionCreated(r, audit.ActionPromptRollback, v)
	writeJSON(w, http.StatusOK, v)
}

func (h *PromptHandler) Diff(w http.ResponseWriter, r *http.Request) {
	from, ok := queryIntPtr(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryIntPtr(w, r, "to")
	if !ok {
		return
	}
	if from == nil || to == nil {
		badRequest(w, "from and to are required")
		return
	}
	d, err := h.svc.Diff(r.Context(), chi.URLParam(r, "name"), *from, *to, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *PromptHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsPublic *bool `json:"is_public"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsPublic == nil {
		badRequest(w, "is_public is required")
		return
	}

	name := chi.URLParam(r, "name")
	v, err := h.svc.SetVisibility(r.Context(), name, principal(r), *req.IsPublic)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.record(r, audit.ActionPromptVisibility, audit.ResourcePrompt, name, map[string]any{"is_public": *req.IsPublic})
	writeJSON(w, http.StatusOK, v)
}

func (h *PromptHandler) Clone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewName string `json:"new_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	source := chi.URLParam(r, "name")
	v, err := h.svc.Clone(r.Context(), source, principal(r), req.NewName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.versionCreated(r, audit.ActionPromptClone, v)
	writeJSON(w, http.StatusCreated, v)
}

// Render fills a version (the active one unless version is set) with variables.
func (h *PromptHandler) Render(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version   int               `json:"version"`
		Variables map[string]string `json:"variables"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	name := chi.URLParam(r, "name")
	var (
		version *models.PromptVersion
		err     error
	)
	if req.Version > 0 {
		version, err = h.svc.GetVersion(r.Context(), name, req.Version, principal(r))
	} else {
		version, err = h.svc.GetActive(r.Context(), name, principal(r))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := prompt.Render(version.Template, req.Variables)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "version": version.Version, "rendered": out})
}
