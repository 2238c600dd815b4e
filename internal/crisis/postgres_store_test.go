package crisis

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/triage-engine/internal/triage"
)

var alertRowColumns = []string{
	"id", "org_id", "user_id", "session_id", "crisis_type", "risk_level", "confidence_score",
	"detected_indicators", "status", "assigned_responder_id", "trigger_message", "context_messages",
	"response_actions", "resolution_notes", "detected_at", "acknowledged_at", "escalated_at", "resolved_at", "updated_at",
}

func strPtr(s string) *string { return &s }

func alertRows(id string, status Status, responder *string, ackAt *time.Time, detected time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(alertRowColumns).AddRow(
		id, "org-1", "u-1", "s-1", triage.CrisisSuicideIdeation, triage.RiskCritical, 9.0,
		[]byte(`{"risk_factors":["suicide: kill myself"],"urgency_level":9}`), status, responder,
		"I want to kill myself", []string{"earlier"},
		[]byte(`{"analysis_version":"v2.0","acknowledged_by":"r-1"}`), (*string)(nil),
		detected, ackAt, (*time.Time)(nil), (*time.Time)(nil), detected,
	)
}

func TestPostgresStore_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	detected := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO crisis_alerts").
		WithArgs(pgxmock.AnyArg(), "org-1", "u-1", "s-1", triage.CrisisSelfHarm, triage.RiskHigh, 8.0,
			pgxmock.AnyArg(), StatusPending, "trigger", []string{}, pgxmock.AnyArg(), detected).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	a, err := NewPostgresStore(mock).Create(context.Background(), Alert{
		OrgID: "org-1", UserID: "u-1", SessionID: "s-1",
		CrisisType: triage.CrisisSelfHarm, RiskLevel: triage.RiskHigh, ConfidenceScore: 8,
		TriggerMessage: "trigger", DetectedAt: detected,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, detected, a.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDecodesJSONColumns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	detected := time.Now().UTC()
	mock.ExpectQuery("FROM crisis_alerts WHERE id").
		WithArgs("a-1").
		WillReturnRows(alertRows("a-1", StatusPending, nil, nil, detected))

	a, err := NewPostgresStore(mock).Get(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"suicide: kill myself"}, a.DetectedIndicators.RiskFactors)
	assert.Equal(t, 9, a.DetectedIndicators.UrgencyLevel)
	assert.Equal(t, "v2.0", a.ResponseActions["analysis_version"])
	assert.Empty(t, a.AssignedResponderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM crisis_alerts WHERE id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTransition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Now().UTC()
	mock.ExpectQuery("UPDATE crisis_alerts SET").
		WithArgs("a-1", StatusPending, StatusAcknowledged, at, "r-1", "", pgxmock.AnyArg()).
		WillReturnRows(alertRows("a-1", StatusAcknowledged, strPtr("r-1"), &at, at.Add(-time.Minute)))

	a, err := NewPostgresStore(mock).ApplyTransition(context.Background(), "a-1", Transition{
		From: StatusPending, To: StatusAcknowledged, At: at, ResponderID: "r-1",
		Actions: Actions{"acknowledged_by": "r-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, a.Status)
	assert.Equal(t, "r-1", a.AssignedResponderID)
	require.NotNil(t, a.AcknowledgedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTransitionStaleStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE crisis_alerts SET").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM crisis_alerts").
		WithArgs("a-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("resolved"))

	_, err = NewPostgresStore(mock).ApplyTransition(context.Background(), "a-1", Transition{
		From: StatusPending, To: StatusAcknowledged, At: time.Now(),
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTransitionMissingAlert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE crisis_alerts SET").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM crisis_alerts").WithArgs("a-1").WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock).ApplyTransition(context.Background(), "a-1", Transition{
		From: StatusPending, To: StatusResolved, At: time.Now(),
	})
	assert.ErrorIs(t, err, ErrAlertNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendActionsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SET response_actions = response_actions").
		WithArgs("a-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPostgresStore(mock).AppendActions(context.Background(), "a-1", Actions{"x": 1})
	assert.ErrorIs(t, err, ErrAlertNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListBuildsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	detected := time.Now().UTC()
	mock.ExpectQuery(`WHERE org_id = \$1 AND risk_level = \$2 AND status <> 'resolved'`).
		WithArgs("org-1", triage.RiskCritical, 10, 20).
		WillReturnRows(alertRows("a-1", StatusPending, nil, nil, detected))

	got, err := NewPostgresStore(mock).List(context.Background(), Filter{
		OrgID: "org-1", RiskLevel: triage.RiskCritical, Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a-1", got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	since := now.AddDate(0, 0, -30)
	mock.ExpectQuery("FROM crisis_alerts").
		WithArgs(since, "org-1", now.Add(-24*time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"total", "pending", "ack", "esc", "res", "high", "day", "unassigned", "avg"}).
			AddRow(10, 3, 2, 1, 4, 5, 2, 1, 1.23456))

	st, err := NewPostgresStore(mock).Stats(context.Background(), "org-1", since, now)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Total)
	assert.Equal(t, 4, st.Resolved)
	assert.Equal(t, 1, st.Unassigned)
	assert.InDelta(t, 1.23, st.AvgResponseTimeHours, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}
