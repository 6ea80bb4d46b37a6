package handlers

import (
	"net/http"

	"github.com/lioarce01/prompt-version-hub/internal/aigen"
	"github.com/lioarce01/prompt-version-hub/internal/audit"
)

type AIHandler struct {
	svc    *aigen.Service
	notify *Notifier
}

func NewAIHandler(svc *aigen.Service, notify *Notifier) *AIHandler {
	return &AIHandler{svc: svc, notify: notify}
}

func (h *AIHandler) GeneratePrompt(w http.ResponseWriter, r *http.Request) {
	var req aigen.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.Generate(r.Context(), req, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notify.record(r, audit.ActionAIGenerate, audit.ResourceGeneration, "",
		map[string]any{"variables": len(out.Variables), "complexity": out.Metadata.Complexity})
	writeJSON(w, http.StatusOK, out)
}
