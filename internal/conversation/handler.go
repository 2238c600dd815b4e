package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/triage-engine/internal/tenancy"
	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

type turnEnqueuer interface {
	EnqueueTurn(ctx context.Context, jobID string, req triage.TurnRequest, opts ...PublishOption) error
}

type sessionEnder interface {
	EndSession(ctx context.Context, orgID, sessionID, summary string) error
}

// Handler wires HTTP requests to the triage engine and the async turn queue.
type Handler struct {
	processor TurnProcessor
	publisher turnEnqueuer
	jobs      JobRecorder
	sessions  sessionEnder
	logger    *logging.Logger
}

// NewHandler creates a turn handler. publisher, jobs and sessions may be nil,
// in which case the routes that need them answer 503.
func NewHandler(processor TurnProcessor, publisher turnEnqueuer, jobs JobRecorder, sessions sessionEnder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		processor: processor,
		publisher: publisher,
		jobs:      jobs,
		sessions:  sessions,
		logger:    logger,
	}
}

type turnBody struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (h *Handler) decodeTurn(w http.ResponseWriter, r *http.Request) (triage.TurnRequest, bool) {
	var body turnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to decode turn request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return triage.TurnRequest{}, false
	}
	body.SessionID = strings.TrimSpace(body.SessionID)
	if body.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return triage.TurnRequest{}, false
	}
	if strings.TrimSpace(body.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return triage.TurnRequest{}, false
	}
	orgID, _ := tenancy.OrgIDFromContext(r.Context())
	return triage.TurnRequest{
		OrgID:     orgID,
		UserID:    strings.TrimSpace(body.UserID),
		SessionID: body.SessionID,
		Text:      body.Text,
	}, true
}

// ProcessTurn handles POST /v1/turns.
func (h *Handler) ProcessTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}

	res, err := h.processor.ProcessTurn(r.Context(), req)
	if err != nil {
		if errors.Is(err, triage.ErrEmptyTurn) {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		if errors.Is(err, triage.ErrSessionOwnership) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to process turn", "error", err, "session_id", req.SessionID)
		http.Error(w, "Failed to process turn", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, NewTurnReply(res))
}

// EnqueueTurn handles POST /v1/turns/async.
func (h *Handler) EnqueueTurn(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil || h.jobs == nil {
		http.Error(w, "Async processing unavailable", http.StatusServiceUnavailable)
		return
	}
	req, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}

	jobID := NewJobID()
	job := &JobRecord{
		JobID:       jobID,
		RequestType: jobTypeTurn,
		SessionID:   req.SessionID,
		OrgID:       req.OrgID,
	}
	if err := h.jobs.PutPending(r.Context(), job); err != nil {
		h.logger.Error("failed to record turn job", "error", err, "job_id", jobID)
		http.Error(w, "Failed to enqueue turn", http.StatusInternalServerError)
		return
	}
	if err := h.publisher.EnqueueTurn(r.Context(), jobID, req); err != nil {
		h.logger.Error("failed to enqueue turn", "error", err, "job_id", jobID)
		http.Error(w, "Failed to enqueue turn", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// GetJob handles GET /v1/jobs/{id}. Jobs of another org read as missing.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		http.Error(w, "Async processing unavailable", http.StatusServiceUnavailable)
		return
	}
	jobID := chi.URLParam(r, "id")
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load turn job", "error", err, "job_id", jobID)
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}
	if job.OrgID != "" && !tenancy.Permits(r.Context(), job.OrgID) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, job)
}

// EndSession handles POST /v1/sessions/{id}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		http.Error(w, "Sessions unavailable", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sessionID := chi.URLParam(r, "id")
	orgID, _ := tenancy.OrgIDFromContext(r.Context())
	if err := h.sessions.EndSession(r.Context(), orgID, sessionID, body.Summary); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to end session", "error", err, "session_id", sessionID)
		http.Error(w, "Failed to end session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
