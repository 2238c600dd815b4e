package crisis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/triage-engine/internal/observability/metrics"
	"github.com/wolfman30/triage-engine/internal/responders"
	"github.com/wolfman30/triage-engine/internal/tenancy"
	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

var lifecycleTracer = otel.Tracer("triage/crisis/lifecycle")

const (
	maxTransitionAttempts = 3
	defaultMeetingBaseURL = "https://meet.triage.local"
	defaultStatsDays      = 30
)

// ManagerConfig holds lifecycle tunables.
type ManagerConfig struct {
	// AutoEmergencySessions escalates assigned HIGH/CRITICAL alerts with a session.
	AutoEmergencySessions bool
	MeetingBaseURL        string
}

// Manager owns every alert status change. It creates alerts for crisis
// turns and serves the administrative lifecycle operations.
type Manager struct {
	store    Store
	team     responders.Store
	notifier Notifier
	recorder EventRecorder
	archiver Archiver
	cfg      ManagerConfig
	logger   *logging.Logger
	metrics  *metrics.TriageMetrics
	now      func() time.Time
}

var _ triage.Escalator = (*Manager)(nil)

type ManagerOption func(*Manager)

func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

func WithEventRecorder(r EventRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

func WithArchiver(a Archiver) ManagerOption {
	return func(m *Manager) { m.archiver = a }
}

func WithMetrics(t *metrics.TriageMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = t }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, team responders.Store, cfg ManagerConfig, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("crisis: store cannot be nil")
	}
	if team == nil {
		panic("crisis: responder store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.MeetingBaseURL) == "" {
		cfg.MeetingBaseURL = defaultMeetingBaseURL
	}
	cfg.MeetingBaseURL = strings.TrimRight(cfg.MeetingBaseURL, "/")
	m := &Manager{
		store:  store,
		team:   team,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Escalate records an alert for a crisis-routed turn, assigns it and
// notifies. Only a failure to persist the alert is returned as an error;
// assignment and notification problems leave the alert recorded and flagged.
func (m *Manager) Escalate(ctx context.Context, in triage.EscalationInput) (triage.EscalationOutcome, error) {
	ctx, span := lifecycleTracer.Start(ctx, "crisis.escalate")
	defer span.End()

	level := in.Classification.Level
	now := m.now().UTC()
	alert := Alert{
		OrgID:              in.OrgID,
		UserID:             in.UserID,
		SessionID:          in.SessionID,
		CrisisType:         in.Classification.Type,
		RiskLevel:          level,
		ConfidenceScore:    in.Classification.Confidence,
		DetectedIndicators: indicatorsFrom(in.Assessment),
		Status:             StatusPending,
		TriggerMessage:     in.TriggerMessage,
		ContextMessages:    lastN(in.ContextMessages, maxContextMessages),
		ResponseActions: Actions{
			"ai_detected_at":   now.Format(time.RFC3339),
			"analysis_version": AnalysisVersion,
			"auto_escalation":  level.IsUrgent(),
		},
		DetectedAt: now,
	}
	span.SetAttributes(
		attribute.String("crisis.type", string(alert.CrisisType)),
		attribute.String("risk.level", string(level)),
		attribute.String("session.id", in.SessionID),
	)

	created, err := m.store.Create(ctx, alert)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create alert failed")
		return triage.EscalationOutcome{}, fmt.Errorf("crisis: create alert: %w", err)
	}
	alert = created
	logger := m.logger.With("alert_id", alert.ID, "session_id", alert.SessionID, "crisis_type", alert.CrisisType, "risk_level", alert.RiskLevel)
	logger.Info("crisis alert created", "confidence", alert.ConfidenceScore)
	m.metrics.ObserveCrisisAlert(string(alert.CrisisType), string(alert.RiskLevel))
	m.record(ctx, EventCreated, alert)

	alert, responder := m.assign(ctx, logger, alert, len(in.Assessment.CognitiveDistortions) > 0)
	if responder != nil {
		span.SetAttributes(attribute.String("responder.id", responder.ID))
	}

	if m.notifier != nil {
		sent := m.notifier.NotifyAlert(ctx, Notification{Alert: alert, Responder: responder, Unassigned: responder == nil})
		if len(sent) > 0 {
			actions := Actions{
				"notifications_sent":     sent,
				"notification_timestamp": m.now().UTC().Format(time.RFC3339),
			}
			if err := m.store.AppendActions(ctx, alert.ID, actions); err != nil {
				logger.Warn("failed to record notifications", "error", err)
			} else {
				mergeActions(&alert, actions)
			}
		}
	}

	if m.cfg.AutoEmergencySessions && responder != nil && level.IsUrgent() {
		res, err := m.EscalateAlert(ctx, alert.ID, EscalateRequest{
			Reason:        "auto_escalation",
			Urgency:       string(level),
			CreateSession: true,
		})
		if err != nil {
			logger.Error("automatic emergency escalation failed", "error", err)
		} else {
			alert = res.Alert
		}
	}

	return triage.EscalationOutcome{
		AlertID:             alert.ID,
		CrisisType:          alert.CrisisType,
		RiskLevel:           alert.RiskLevel,
		Status:              string(alert.Status),
		AssignedResponderID: alert.AssignedResponderID,
		Unassigned:          alert.AssignedResponderID == "",
	}, nil
}

// assign binds the alert to a responder and records the outcome in the
// audit trail. Every path, including failures, leaves an explicit record.
func (m *Manager) assign(ctx context.Context, logger *logging.Logger, alert Alert, distortions bool) (Alert, *responders.Responder) {
	res, err := m.team.Assign(ctx, responders.Request{
		AlertID:        alert.ID,
		OrgID:          alert.OrgID,
		CrisisType:     alert.CrisisType,
		Level:          alert.RiskLevel,
		HasDistortions: distortions,
	})

	now := m.now().UTC()
	actions := Actions{}
	switch {
	case err != nil:
		logger.Error("responder assignment failed, alert left unassigned", "error", err)
		actions["no_responders_available"] = true
		actions["org_id"] = alert.OrgID
		actions["assignment_error"] = err.Error()
		m.metrics.ObserveAssignment(string(responders.OutcomeUnassigned))
	case res.Outcome == responders.OutcomeConflictExhausted:
		logger.Error("responder assignment retries exhausted, alert left unassigned", "attempts", res.Attempts)
		actions["assignment_conflict_exhausted"] = true
		actions["org_id"] = alert.OrgID
		m.metrics.ObserveAssignment(string(responders.OutcomeConflictExhausted))
	case res.Outcome == responders.OutcomeUnassigned || res.Assignment == nil:
		logger.Warn("no responders available, alert flagged for manual assignment")
		actions["no_responders_available"] = true
		actions["org_id"] = alert.OrgID
		m.metrics.ObserveAssignment(string(responders.OutcomeUnassigned))
	default:
		a := res.Assignment
		actions["auto_assigned_at"] = now.Format(time.RFC3339)
		actions["assigned_responder_id"] = a.Responder.ID
		actions["responder_role"] = string(a.Responder.Role)
		actions["assignment_score"] = a.Score
		actions["assignment_reason"] = a.Reason
		m.metrics.ObserveAssignment(string(responders.OutcomeAssigned))
		if res.NoSpecializationMatch {
			logger.Warn("assigned without specialization match", "responder_id", a.Responder.ID)
			actions["no_specialization_match"] = true
			m.metrics.ObserveAssignment("no_specialization")
		}
	}

	if err != nil || res.Assignment == nil {
		if err := m.store.AppendActions(ctx, alert.ID, actions); err != nil {
			logger.Warn("failed to record assignment outcome", "error", err)
		} else {
			mergeActions(&alert, actions)
		}
		m.record(ctx, EventUnassigned, alert)
		return alert, nil
	}

	responder := res.Assignment.Responder
	alert.AssignedResponderID = responder.ID
	logger.Info("crisis alert assigned", "responder_id", responder.ID, "assignment_score", res.Assignment.Score)

	if alert.RiskLevel.IsUrgent() {
		// a bound specialist counts as review for urgent alerts
		acked, err := m.transition(ctx, alert.ID, StatusAcknowledged, Transition{ResponderID: responder.ID, Actions: actions})
		if err == nil {
			m.record(ctx, EventAssigned, acked)
			return acked, &responder
		}
		logger.Error("auto-acknowledge failed", "error", err)
	}
	if err := m.store.AppendActions(ctx, alert.ID, actions); err != nil {
		logger.Warn("failed to record assignment", "error", err)
	} else {
		mergeActions(&alert, actions)
	}
	m.record(ctx, EventAssigned, alert)
	return alert, &responder
}

// transition applies a status change, re-reading and re-validating when a
// concurrent writer got there first.
func (m *Manager) transition(ctx context.Context, id string, to Status, t Transition) (Alert, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return Alert{}, err
		}
		if err := checkTransition(cur.Status, to); err != nil {
			return Alert{}, err
		}
		t.From, t.To, t.At = cur.Status, to, m.now().UTC()
		updated, err := m.store.ApplyTransition(ctx, id, t)
		if errors.Is(err, ErrStatusChanged) {
			continue
		}
		if err != nil {
			return Alert{}, err
		}
		m.metrics.ObserveTransition(string(t.From), string(to))
		m.logger.Info("crisis alert status changed", "alert_id", id, "from", t.From, "to", to)
		return updated, nil
	}
	return Alert{}, fmt.Errorf("crisis: alert %s: %w", id, ErrStatusChanged)
}

func (m *Manager) record(ctx context.Context, kind EventKind, a Alert) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, Event{Kind: kind, Alert: a, At: m.now().UTC()}); err != nil {
		m.logger.Warn("failed to record alert event", "alert_id", a.ID, "event", kind, "error", err)
	}
}

// scopedAlert loads an alert the caller's org may act on. Alerts owned by
// another org are reported as not found.
func (m *Manager) scopedAlert(ctx context.Context, id string) (Alert, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	if !tenancy.Permits(ctx, a.OrgID) {
		return Alert{}, ErrAlertNotFound
	}
	return a, nil
}

// Acknowledge moves a pending alert to acknowledged on behalf of a responder.
func (m *Manager) Acknowledge(ctx context.Context, id, responderID string) (Alert, error) {
	ctx, span := lifecycleTracer.Start(ctx, "crisis.acknowledge")
	defer span.End()

	if _, err := m.scopedAlert(ctx, id); err != nil {
		span.RecordError(err)
		return Alert{}, err
	}
	now := m.now().UTC()
	alert, err := m.transition(ctx, id, StatusAcknowledged, Transition{
		ResponderID: responderID,
		Actions: Actions{
			"acknowledged_by": responderID,
			"acknowledged_at": now.Format(time.RFC3339),
		},
	})
	if err != nil {
		span.RecordError(err)
		return Alert{}, err
	}
	m.record(ctx, EventAcknowledged, alert)
	return alert, nil
}

// BulkResult reports which alerts a bulk acknowledgement changed.
type BulkResult struct {
	Acknowledged []string `json:"acknowledged"`
	Skipped      []string `json:"skipped"`
}

// BulkAcknowledge acknowledges the pending alerts among ids and skips the rest,
// including alerts outside the caller's org.
func (m *Manager) BulkAcknowledge(ctx context.Context, ids []string, responderID string) (BulkResult, error) {
	res := BulkResult{Acknowledged: []string{}, Skipped: []string{}}
	for _, id := range ids {
		cur, err := m.scopedAlert(ctx, id)
		if errors.Is(err, ErrAlertNotFound) {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err != nil {
			return res, err
		}
		if cur.Status != StatusPending {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if _, err := m.Acknowledge(ctx, id, responderID); err != nil {
			if errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrStatusChanged) {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			return res, err
		}
		res.Acknowledged = append(res.Acknowledged, id)
	}
	return res, nil
}

// EscalateRequest is an explicit escalation by an operator or the auto path.
type EscalateRequest struct {
	Reason        string   `json:"reason"`
	Urgency       string   `json:"urgency"`
	Actions       []string `json:"actions"`
	CreateSession bool     `json:"create_session"`
}

// EscalationResult is the escalated alert plus any session scheduled for it.
type EscalationResult struct {
	Alert   Alert               `json:"alert"`
	Session *responders.Session `json:"session,omitempty"`
}

// EscalateAlert moves a pending or acknowledged alert to escalated and, when
// asked and a responder is bound, schedules an emergency session.
func (m *Manager) EscalateAlert(ctx context.Context, id string, req EscalateRequest) (EscalationResult, error) {
	ctx, span := lifecycleTracer.Start(ctx, "crisis.escalate_alert")
	defer span.End()

	if _, err := m.scopedAlert(ctx, id); err != nil {
		span.RecordError(err)
		return EscalationResult{}, err
	}
	now := m.now().UTC()
	actions := Actions{
		"escalated_at":        now.Format(time.RFC3339),
		"escalation_reason":   req.Reason,
		"urgency_level":       req.Urgency,
		"recommended_actions": nonNilStrings(req.Actions),
	}
	alert, err := m.transition(ctx, id, StatusEscalated, Transition{Actions: actions})
	if err != nil {
		span.RecordError(err)
		return EscalationResult{}, err
	}
	m.record(ctx, EventEscalated, alert)
	result := EscalationResult{Alert: alert}

	if !req.CreateSession {
		return result, nil
	}
	if alert.AssignedResponderID == "" {
		m.logger.Warn("emergency session skipped, alert has no responder", "alert_id", id)
		skipped := Actions{"emergency_session_skipped": "no_assigned_responder"}
		if err := m.store.AppendActions(ctx, id, skipped); err == nil {
			mergeActions(&result.Alert, skipped)
		}
		return result, nil
	}

	scheduledFor, minutes := EmergencySessionSchedule(alert.RiskLevel, now)
	sess, err := m.team.CreateSession(ctx, responders.Session{
		ResponderID:     alert.AssignedResponderID,
		UserID:          alert.UserID,
		AlertID:         alert.ID,
		SessionType:     responders.SessionTypeCrisis,
		Status:          responders.SessionScheduled,
		ScheduledFor:    scheduledFor,
		DurationMinutes: minutes,
		MeetingLink:     m.meetingLink(alert.ID),
		Notes:           fmt.Sprintf("Emergency session for %s alert (%s)", alert.RiskLevel, alert.CrisisType),
	})
	if err != nil {
		// the escalation itself stands
		m.logger.Error("failed to schedule emergency session", "alert_id", id, "error", err)
		return result, nil
	}
	sessionActions := Actions{
		"emergency_session_created": true,
		"session_id":                sess.ID,
		"session_scheduled_for":     sess.ScheduledFor.UTC().Format(time.RFC3339),
		"responder_id":              sess.ResponderID,
	}
	if err := m.store.AppendActions(ctx, id, sessionActions); err != nil {
		m.logger.Warn("failed to record emergency session", "alert_id", id, "error", err)
	} else {
		mergeActions(&result.Alert, sessionActions)
	}
	m.logger.Info("emergency session scheduled", "alert_id", id, "responder_id", sess.ResponderID, "scheduled_for", sess.ScheduledFor)
	result.Session = &sess
	return result, nil
}

// EmergencySessionSchedule returns the start time and length of an
// emergency session: critical alerts get 60 minutes in 30 minutes, others
// 50 minutes in two hours.
func EmergencySessionSchedule(level triage.RiskLevel, now time.Time) (time.Time, int) {
	if level == triage.RiskCritical {
		return now.Add(30 * time.Minute), 60
	}
	return now.Add(2 * time.Hour), 50
}

func (m *Manager) meetingLink(alertID string) string {
	short := alertID
	if len(short) > 8 {
		short = short[:8]
	}
	return m.cfg.MeetingBaseURL + "/emergency/" + short
}

// ResolveRequest closes an alert.
type ResolveRequest struct {
	Notes    string `json:"notes"`
	Method   string `json:"method"`
	FollowUp bool   `json:"follow_up"`
}

// Resolve closes the alert. Resolved is terminal; a second resolve is rejected.
func (m *Manager) Resolve(ctx context.Context, id string, req ResolveRequest) (Alert, error) {
	ctx, span := lifecycleTracer.Start(ctx, "crisis.resolve")
	defer span.End()

	if _, err := m.scopedAlert(ctx, id); err != nil {
		span.RecordError(err)
		return Alert{}, err
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = "manual"
	}
	now := m.now().UTC()
	alert, err := m.transition(ctx, id, StatusResolved, Transition{
		Notes: req.Notes,
		Actions: Actions{
			"resolved_at":       now.Format(time.RFC3339),
			"resolution_method": method,
			"follow_up_needed":  req.FollowUp,
		},
	})
	if err != nil {
		span.RecordError(err)
		return Alert{}, err
	}
	m.record(ctx, EventResolved, alert)

	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, alert); err != nil {
			m.logger.Warn("failed to archive resolved alert", "alert_id", id, "error", err)
		}
	}
	return alert, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Alert, error) {
	return m.scopedAlert(ctx, id)
}

func (m *Manager) List(ctx context.Context, f Filter) ([]Alert, error) {
	return m.store.List(ctx, f)
}

// Stats summarises alerts of the last daysBack days (30 when unset).
func (m *Manager) Stats(ctx context.Context, orgID string, daysBack int) (Stats, error) {
	if daysBack <= 0 {
		daysBack = defaultStatsDays
	}
	now := m.now().UTC()
	st, err := m.store.Stats(ctx, orgID, now.AddDate(0, 0, -daysBack), now)
	if err != nil {
		return Stats{}, err
	}
	st.DaysBack = daysBack
	return st, nil
}

func (m *Manager) Availability(ctx context.Context, orgID string) (responders.Availability, error) {
	return m.team.Availability(ctx, orgID)
}

// UpdateResponderStatus changes a responder's availability. Responders of
// another org are reported as not found.
func (m *Manager) UpdateResponderStatus(ctx context.Context, id string, status responders.Status) (responders.Responder, error) {
	cur, err := m.team.Get(ctx, id)
	if err != nil {
		return responders.Responder{}, err
	}
	if !tenancy.Permits(ctx, cur.OrgID) {
		return responders.Responder{}, responders.ErrResponderNotFound
	}
	r, err := m.team.UpdateStatus(ctx, id, status)
	if err != nil {
		return responders.Responder{}, err
	}
	m.logger.Info("responder status updated", "responder_id", id, "status", status)
	return r, nil
}

func mergeActions(a *Alert, actions Actions) {
	if a.ResponseActions == nil {
		a.ResponseActions = Actions{}
	}
	for k, v := range actions {
		a.ResponseActions[k] = v
	}
}

func lastN(in []string, n int) []string {
	if len(in) > n {
		in = in[len(in)-n:]
	}
	return append([]string{}, in...)
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
