package handlers

import (
	"net/http"

	"github.com/lioarce01/prompt-version-hub/internal/analytics"
	"github.com/lioarce01/prompt-version-hub/internal/usage"
)

type UsageHandler struct {
	svc *usage.Service
}

func NewUsageHandler(svc *usage.Service) *UsageHandler {
	return &UsageHandler{svc: svc}
}

func (h *UsageHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req usage.RecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ev, err := h.svc.Record(r.Context(), req, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *UsageHandler) ByVersion(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("prompt_name")
	if name == "" {
		badRequest(w, "prompt_name is required")
		return
	}
	minV, ok := queryIntPtr(w, r, "min_version")
	if !ok {
		return
	}
	maxV, ok := queryIntPtr(w, r, "max_version")
	if !ok {
		return
	}

	rows, err := h.svc.ByVersion(r.Context(), name, minV, maxV, principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompt_name": name, "items": rows})
}

type KPIHandler struct {
	svc *analytics.Service
}

func NewKPIHandler(svc *analytics.Service) *KPIHandler {
	return &KPIHandler{svc: svc}
}

func (h *KPIHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *KPIHandler) UsageTrend(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	if bucket != analytics.BucketDay {
		bucket = analytics.BucketWeek
	}
	points, err := h.svc.UsageTrend(r.Context(), queryInt(r, "period_days", 0), bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bucket": bucket, "items": points})
}

func (h *KPIHandler) VersionVelocity(w http.ResponseWriter, r *http.Request) {
	points, err := h.svc.VersionVelocity(r.Context(), queryInt(r, "months", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": points})
}

func (h *KPIHandler) TopPrompts(w http.ResponseWriter, r *http.Request) {
	top, err := h.svc.TopPrompts(r.Context(), queryInt(r, "limit", 0), queryInt(r, "period_days", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": top})
}

func (h *KPIHandler) Experiments(w http.ResponseWriter, r *http.Request) {
	overview, err := h.svc.ExperimentsOverview(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": overview})
}
