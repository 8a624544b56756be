package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tabwarden/tabwarden/internal/api/respond"
	"github.com/tabwarden/tabwarden/internal/api/validate"
	"github.com/tabwarden/tabwarden/internal/auth"
	"github.com/tabwarden/tabwarden/internal/model"
	"github.com/tabwarden/tabwarden/internal/services"
)

// LedgerHandler provides HTTP transport for LedgerService.
type LedgerHandler struct {
	svc   *services.LedgerService
	authz auth.Authorizer
}

func NewLedgerHandler(svc *services.LedgerService, authz auth.Authorizer) *LedgerHandler {
	return &LedgerHandler{svc: svc, authz: authz}
}

// subject validates the path subject and checks the caller may perform op on
// it. On failure the response is already written.
func (h *LedgerHandler) subject(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	subjectID := mux.Vars(r)["subjectId"]
	if err := validate.SubjectID(subjectID); err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if !h.authorize(w, r, op, subjectID) {
		return "", false
	}
	return subjectID, true
}

func (h *LedgerHandler) authorize(w http.ResponseWriter, r *http.Request, op, subjectID string) bool {
	apiKey, err := auth.ExtractAPIKey(r)
	if err == nil {
		_, err = h.authz.Authorize(r.Context(), apiKey, op, subjectID)
	}
	if err != nil {
		respond.WriteError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// CreateSubject POST /api/subjects
func (h *LedgerHandler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, auth.OpProvision, "") {
		return
	}
	var req model.CreateSubjectRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validate.SubjectID(req.SubjectID); err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := h.svc.CreateSubject(r.Context(), req.SubjectID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, sub)
}

// GetSubject GET /api/subjects/{subjectId}
func (h *LedgerHandler) GetSubject(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpRead)
	if !ok {
		return
	}
	view, err := h.svc.GetSubject(r.Context(), subjectID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, view)
}

// ReportUsage POST /api/subjects/{subjectId}/usage
func (h *LedgerHandler) ReportUsage(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpReport)
	if !ok {
		return
	}
	var req model.UsageReport
	if !decode(w, r, &req) {
		return
	}
	if err := validate.UsageReport(req.Domain, req.Seconds); err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.ReportUsage(r.Context(), subjectID, req); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUsage GET /api/subjects/{subjectId}/usage
func (h *LedgerHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpRead)
	if !ok {
		return
	}
	recs, err := h.svc.GetUsage(r.Context(), subjectID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []*model.UsageRecord{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"usage": recs, "count": len(recs)})
}

// SetCategory PUT /api/subjects/{subjectId}/usage/{domain}/category
func (h *LedgerHandler) SetCategory(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpManage)
	if !ok {
		return
	}
	var req model.CategoryUpdate
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Category(req.Category); err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.ResetCategory(r.Context(), subjectID, mux.Vars(r)["domain"], req.Category); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReportSearch POST /api/subjects/{subjectId}/searches
func (h *LedgerHandler) ReportSearch(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpReport)
	if !ok {
		return
	}
	var req model.SearchReport
	if !decode(w, r, &req) {
		return
	}
	if err := validate.SearchReport(req.Domain, req.Query); err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.ReportSearch(r.Context(), subjectID, req); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReportIncognito POST /api/subjects/{subjectId}/incognito
func (h *LedgerHandler) ReportIncognito(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpReport)
	if !ok {
		return
	}
	var req model.IncognitoReport
	if !decode(w, r, &req) {
		return
	}
	// A private window may open on a blank page, so the URL is optional.
	if err := validate.MaxLen("url", req.URL, 2048); err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	alert, err := h.svc.ReportIncognito(r.Context(), subjectID, req)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, alert)
}

// ListAlerts GET /api/subjects/{subjectId}/alerts
func (h *LedgerHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpRead)
	if !ok {
		return
	}
	alerts, err := h.svc.ListAlerts(r.Context(), subjectID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*model.IncognitoAlert{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

// ClearAlerts DELETE /api/subjects/{subjectId}/alerts
func (h *LedgerHandler) ClearAlerts(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpManage)
	if !ok {
		return
	}
	n, err := h.svc.ClearAlerts(r.Context(), subjectID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"cleared": n})
}

// Heartbeat POST /api/subjects/{subjectId}/heartbeat
func (h *LedgerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Heartbeat)
}

// Activate POST /api/subjects/{subjectId}/activate
func (h *LedgerHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Activate)
}

// Disconnect POST /api/subjects/{subjectId}/disconnect
func (h *LedgerHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Disconnect)
}

func (h *LedgerHandler) lifecycle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, subjectID string) error) {
	subjectID, ok := h.subject(w, r, auth.OpReport)
	if !ok {
		return
	}
	if err := fn(r.Context(), subjectID); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckBlocked GET /api/subjects/{subjectId}/blocked?url=
func (h *LedgerHandler) CheckBlocked(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpReport)
	if !ok {
		return
	}
	rawURL := r.URL.Query().Get("url")
	if err := validate.URL("url", rawURL); err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.CheckBlocked(r.Context(), subjectID, rawURL)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, res)
}

// ListBlocked GET /api/subjects/{subjectId}/blocks
func (h *LedgerHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpRead)
	if !ok {
		return
	}
	domains, err := h.svc.ListBlocked(r.Context(), subjectID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	if domains == nil {
		domains = []string{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"domains": domains, "count": len(domains)})
}

// BlockDomain PUT /api/subjects/{subjectId}/blocks/{domain}
func (h *LedgerHandler) BlockDomain(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpManage)
	if !ok {
		return
	}
	domain, err := h.svc.BlockURL(r.Context(), subjectID, mux.Vars(r)["domain"])
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, model.BlockCheck{Blocked: true, Domain: domain})
}

// UnblockDomain DELETE /api/subjects/{subjectId}/blocks/{domain}
func (h *LedgerHandler) UnblockDomain(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpManage)
	if !ok {
		return
	}
	domain, err := h.svc.UnblockURL(r.Context(), subjectID, mux.Vars(r)["domain"])
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, model.BlockCheck{Blocked: false, Domain: domain})
}

// ListActivity GET /api/subjects/{subjectId}/activity?since=&until=
func (h *LedgerHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subject(w, r, auth.OpRead)
	if !ok {
		return
	}
	q := r.URL.Query()
	since, err := validate.Timestamp("since", q.Get("since"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := validate.Timestamp("until", q.Get("until"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ListActivity(r.Context(), subjectID, model.Timeframe{Since: since, Until: until})
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	if items == nil {
		items = []model.ActivityItem{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"activity": items, "count": len(items)})
}
