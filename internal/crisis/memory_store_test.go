package crisis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/triage-engine/internal/responders"
	"github.com/wolfman30/triage-engine/internal/triage"
)

func seedAlert(t *testing.T, s *MemoryStore, level triage.RiskLevel, detected time.Time) Alert {
	t.Helper()
	a, err := s.Create(context.Background(), Alert{
		OrgID:           "org-1",
		UserID:          "u-1",
		SessionID:       "s-1",
		CrisisType:      triage.CrisisSevereDepression,
		RiskLevel:       level,
		ResponseActions: Actions{"analysis_version": AnalysisVersion},
		DetectedAt:      detected,
	})
	require.NoError(t, err)
	return a
}

func TestMemoryStore_ApplyTransitionIsCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := seedAlert(t, s, triage.RiskHigh, time.Now().UTC())

	at := time.Now().UTC()
	got, err := s.ApplyTransition(ctx, a.ID, Transition{
		From: StatusPending, To: StatusAcknowledged, At: at,
		ResponderID: "r-1", Actions: Actions{"acknowledged_by": "r-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedAt)
	assert.Equal(t, "r-1", got.AssignedResponderID)
	assert.Equal(t, "r-1", got.ResponseActions["acknowledged_by"])
	assert.Equal(t, AnalysisVersion, got.ResponseActions["analysis_version"])

	_, err = s.ApplyTransition(ctx, a.ID, Transition{From: StatusPending, To: StatusEscalated, At: at})
	assert.ErrorIs(t, err, ErrStatusChanged)

	_, err = s.ApplyTransition(ctx, "missing", Transition{From: StatusPending, To: StatusResolved})
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	a := seedAlert(t, s, triage.RiskLow, time.Now())
	a.ResponseActions["tampered"] = true

	got, err := s.Get(context.Background(), a.ID)
	require.NoError(t, err)
	_, ok := got.ResponseActions["tampered"]
	assert.False(t, ok)
}

func TestMemoryStore_ListOrdersByRiskThenRecency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	low := seedAlert(t, s, triage.RiskLow, base.Add(3*time.Hour))
	critOld := seedAlert(t, s, triage.RiskCritical, base)
	critNew := seedAlert(t, s, triage.RiskCritical, base.Add(time.Hour))
	resolved := seedAlert(t, s, triage.RiskHigh, base)
	_, err := s.ApplyTransition(ctx, resolved.ID, Transition{From: StatusPending, To: StatusResolved, At: base})
	require.NoError(t, err)

	got, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{critNew.ID, critOld.ID, low.ID}, []string{got[0].ID, got[1].ID, got[2].ID})

	got, err = s.List(ctx, Filter{IncludeResolved: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, critOld.ID, got[0].ID)
	assert.Equal(t, resolved.ID, got[1].ID)

	got, err = s.List(ctx, Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_Stats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	acked := seedAlert(t, s, triage.RiskCritical, now.Add(-2*time.Hour))
	_, err := s.ApplyTransition(ctx, acked.ID, Transition{From: StatusPending, To: StatusAcknowledged, At: now.Add(-90 * time.Minute), ResponderID: "r-1"})
	require.NoError(t, err)
	seedAlert(t, s, triage.RiskMedium, now.Add(-48*time.Hour))
	seedAlert(t, s, triage.RiskHigh, now.AddDate(0, 0, -40))

	st, err := s.Stats(ctx, "org-1", now.AddDate(0, 0, -30), now)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Acknowledged)
	assert.Equal(t, 1, st.HighPriority)
	assert.Equal(t, 1, st.Last24Hours)
	assert.Equal(t, 1, st.Unassigned)
	assert.InDelta(t, 0.5, st.AvgResponseTimeHours, 1e-9)
}

func TestMemoryStore_BindResponder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := seedAlert(t, s, triage.RiskHigh, time.Now())

	require.NoError(t, s.BindResponder(ctx, a.ID, "r-1"))
	err := s.BindResponder(ctx, a.ID, "r-2")
	assert.ErrorIs(t, err, responders.ErrAssignmentConflict)

	counts, err := s.ActiveAlertCounts(ctx, []string{"r-1", "r-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"r-1": 1}, counts)
}
