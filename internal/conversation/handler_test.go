package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/triage-engine/internal/tenancy"
	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenancy.WithOrgID(req.Context(), "org-1")))
		})
	})
	r.Post("/v1/turns", h.ProcessTurn)
	r.Post("/v1/turns/async", h.EnqueueTurn)
	r.Get("/v1/jobs/{id}", h.GetJob)
	r.Post("/v1/sessions/{id}/end", h.EndSession)
	return r
}

func TestHandler_ProcessTurn(t *testing.T) {
	processor := &stubProcessor{result: triage.TurnResult{
		Reply:            triage.CrisisResources,
		InterventionType: triage.InterventionCrisis,
		CrisisDetected:   true,
		Alert:            &triage.EscalationOutcome{AlertID: "a-1"},
	}}
	router := newTestRouter(NewHandler(processor, nil, nil, nil, logging.Default()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{"user_id":"u1","session_id":"s1","text":"I want to kill myself"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body TurnReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.CrisisDetected)
	assert.Equal(t, "crisis_escalation", body.InterventionType)
	assert.Equal(t, "a-1", body.AlertID)
	assert.Equal(t, "org-1", processor.lastRequest().OrgID)
}

func TestHandler_ProcessTurnValidation(t *testing.T) {
	router := newTestRouter(NewHandler(&stubProcessor{}, nil, nil, nil, nil))

	for _, body := range []string{`{`, `{"text":"hi"}`, `{"session_id":"s1","text":"   "}`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestHandler_ProcessTurnFailure(t *testing.T) {
	router := newTestRouter(NewHandler(&stubProcessor{err: errors.New("boom")}, nil, nil, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{"session_id":"s1","text":"hi"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestHandler_AsyncTurnAndJobLookup(t *testing.T) {
	queue := newScriptedQueue()
	jobs := NewMemoryJobStore()
	router := newTestRouter(NewHandler(&stubProcessor{}, NewPublisher(queue, nil), jobs, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turns/async", strings.NewReader(`{"session_id":"s1","text":"hello"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	jobID := accepted["job_id"]
	require.NotEmpty(t, jobID)
	require.Len(t, queue.sent, 1)
	assert.Equal(t, "s1", queue.sent[0].groupID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, JobStatusPending, job.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_JobOfAnotherOrgIsHidden(t *testing.T) {
	jobs := NewMemoryJobStore()
	require.NoError(t, jobs.PutPending(context.Background(), &JobRecord{JobID: "j-other", OrgID: "org-2"}))
	router := newTestRouter(NewHandler(&stubProcessor{}, nil, jobs, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/j-other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_AsyncUnavailableWithoutQueue(t *testing.T) {
	router := newTestRouter(NewHandler(&stubProcessor{}, nil, nil, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turns/async", strings.NewReader(`{"session_id":"s1","text":"hello"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_EndSession(t *testing.T) {
	store := NewMemoryTurnStore()
	_, err := store.AppendTurn(context.Background(), triage.SessionKey{OrgID: "org-1", SessionID: "s1"}, triage.RoleUser, "hi")
	require.NoError(t, err)
	_, err = store.AppendTurn(context.Background(), triage.SessionKey{OrgID: "org-2", SessionID: "s2"}, triage.RoleUser, "hi")
	require.NoError(t, err)
	router := newTestRouter(NewHandler(&stubProcessor{}, nil, nil, store, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/end", strings.NewReader(`{"summary":"exam stress"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/nope/end", strings.NewReader(`{"summary":"x"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/s2/end", strings.NewReader(`{"summary":"x"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ProcessTurnForeignSession(t *testing.T) {
	processor := &stubProcessor{err: fmt.Errorf("wrapped: %w", triage.ErrSessionOwnership)}
	router := newTestRouter(NewHandler(processor, nil, nil, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{"user_id":"u1","session_id":"s1","text":"hello"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
