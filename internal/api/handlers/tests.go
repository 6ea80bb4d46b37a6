package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lioarce01/prompt-version-hub/internal/audit"
	"github.com/lioarce01/prompt-version-hub/internal/testrun"
)

type TestHandler struct {
	svc    *testrun.Service
	notify *Notifier
}

func NewTestHandler(svc *testrun.Service, notify *Notifier) *TestHandler {
	return &TestHandler{svc: svc, notify: notify}
}

func (h *TestHandler) Suite(w http.ResponseWriter, r *http.Request) {
	suite, err := h.svc.Suite(r.Context(), chi.URLParam(r, "name"), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suite)
}

func (h *TestHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req testrun.CaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tc, err := h.svc.CreateCase(r.Context(), chi.URLParam(r, "name"), req, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (h *TestHandler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var upd testrun.CaseUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	tc, err := h.svc.UpdateCase(r.Context(), id, upd, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (h *TestHandler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteCase(r.Context(), id, principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TestHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	name := chi.URLParam(r, "name")
	cases, err := h.svc.GenerateCases(r.Context(), name, req.Count, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.record(r, audit.ActionTestsGenerate, audit.ResourceTestSuite, name, map[string]any{"generated": len(cases)})
	writeJSON(w, http.StatusCreated, map[string]any{"items": cases, "count": len(cases)})
}

func (h *TestHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req testrun.RunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	name := chi.URLParam(r, "name")
	runs, err := h.svc.RunTests(r.Context(), name, req, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	passed, failed, unchecked := 0, 0, 0
	for _, run := range runs {
		switch {
		case run.Success == nil:
			unchecked++
		case *run.Success:
			passed++
		default:
			failed++
		}
	}
	h.notify.record(r, audit.ActionTestsRun, audit.ResourceTestSuite, name, map[string]any{"runs": len(runs), "failed": failed})
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     runs,
		"count":     len(runs),
		"passed":    passed,
		"failed":    failed,
		"unchecked": unchecked,
	})
}
