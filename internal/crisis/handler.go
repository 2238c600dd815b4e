package crisis

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/triage-engine/internal/responders"
	"github.com/wolfman30/triage-engine/internal/tenancy"
	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// Handler serves the administrative crisis and responder endpoints.
type Handler struct {
	manager *Manager
	logger  *logging.Logger
}

func NewHandler(manager *Manager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

// ListAlerts handles GET /admin/crisis/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{
		ResponderID:     strings.TrimSpace(q.Get("responder_id")),
		IncludeResolved: q.Get("include_resolved") == "true",
	}
	f.OrgID, _ = tenancy.OrgIDFromContext(r.Context())
	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		f.Status = status
	}
	if raw := q.Get("risk_level"); raw != "" {
		level, err := triage.ParseRiskLevel(raw)
		if err != nil {
			http.Error(w, "invalid risk_level", http.StatusBadRequest)
			return
		}
		f.RiskLevel = level
	}
	var ok bool
	if f.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if f.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	alerts, err := h.manager.List(r.Context(), f)
	if err != nil {
		h.fail(w, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// GetAlert handles GET /admin/crisis/alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get alert", err)
		return
	}
	if !sameOrg(r, alert.OrgID) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

type acknowledgeBody struct {
	ResponderID string   `json:"responder_id"`
	AlertIDs    []string `json:"alert_ids"`
}

// Acknowledge handles PUT /admin/crisis/alerts/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var body acknowledgeBody
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.ResponderID) == "" {
		http.Error(w, "responder_id is required", http.StatusBadRequest)
		return
	}
	alert, err := h.manager.Acknowledge(r.Context(), chi.URLParam(r, "id"), body.ResponderID)
	if err != nil {
		h.fail(w, "acknowledge alert", err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// BulkAcknowledge handles PUT /admin/crisis/alerts/bulk-acknowledge.
func (h *Handler) BulkAcknowledge(w http.ResponseWriter, r *http.Request) {
	var body acknowledgeBody
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.ResponderID) == "" || len(body.AlertIDs) == 0 {
		http.Error(w, "responder_id and alert_ids are required", http.StatusBadRequest)
		return
	}
	res, err := h.manager.BulkAcknowledge(r.Context(), body.AlertIDs, body.ResponderID)
	if err != nil {
		h.fail(w, "bulk acknowledge", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Escalate handles PUT /admin/crisis/alerts/{id}/escalate.
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	var body EscalateRequest
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}
	res, err := h.manager.EscalateAlert(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		h.fail(w, "escalate alert", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Resolve handles PUT /admin/crisis/alerts/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body ResolveRequest
	if !h.decode(w, r, &body) {
		return
	}
	alert, err := h.manager.Resolve(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		h.fail(w, "resolve alert", err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// Stats handles GET /admin/crisis/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r.URL.Query().Get("days_back"), "days_back")
	if !ok {
		return
	}
	orgID, _ := tenancy.OrgIDFromContext(r.Context())
	st, err := h.manager.Stats(r.Context(), orgID, days)
	if err != nil {
		h.fail(w, "alert stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// Availability handles GET /admin/responders/availability.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org id", http.StatusBadRequest)
		return
	}
	report, err := h.manager.Availability(r.Context(), orgID)
	if err != nil {
		h.fail(w, "responder availability", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// UpdateResponderStatus handles PUT /admin/responders/{id}/status.
func (h *Handler) UpdateResponderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	status, err := responders.ParseStatus(body.Status)
	if err != nil {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	resp, err := h.manager.UpdateResponderStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.fail(w, "update responder status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode admin request", "path", r.URL.Path, "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps lifecycle errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrAlertNotFound):
		http.Error(w, "alert not found", http.StatusNotFound)
	case errors.Is(err, responders.ErrResponderNotFound):
		http.Error(w, "responder not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidStatusTransition), errors.Is(err, ErrStatusChanged):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("admin request failed", "op", op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func sameOrg(r *http.Request, orgID string) bool {
	return tenancy.Permits(r.Context(), orgID)
}
