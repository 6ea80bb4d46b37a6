package handlers

import (
	"net/http"
	"time"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/audit"
	"github.com/lioarce01/prompt-version-hub/internal/user"
)

type AdminHandler struct {
	audit *audit.Service
	users *user.Service
}

func NewAdminHandler(auditSvc *audit.Service, users *user.Service) *AdminHandler {
	return &AdminHandler{audit: auditSvc, users: users}
}

func queryTime(w http.ResponseWriter, r *http.Request, key string) (*time.Time, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		badRequest(w, key+" must be an RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		Action: r.URL.Query().Get("action"),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	var ok bool
	if q.StartDate, ok = queryTime(w, r, "start_date"); !ok {
		return
	}
	if q.EndDate, ok = queryTime(w, r, "end_date"); !ok {
		return
	}

	page, err := h.audit.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	page, err := h.users.List(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Role access.Role `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.users.SetRole(r.Context(), id, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
