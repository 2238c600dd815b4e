package crisis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const alertColumns = `id::text, org_id, user_id, session_id, crisis_type, risk_level, confidence_score,
	detected_indicators, status, assigned_responder_id::text, trigger_message, context_messages,
	response_actions, resolution_notes, detected_at, acknowledged_at, escalated_at, resolved_at, updated_at`

// PostgresStore keeps alerts in the crisis_alerts table.
type PostgresStore struct {
	db db
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db db) *PostgresStore {
	if db == nil {
		panic("crisis: db cannot be nil")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a Alert) (Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.ResponseActions == nil {
		a.ResponseActions = Actions{}
	}
	if a.ContextMessages == nil {
		a.ContextMessages = []string{}
	}
	indicators, err := json.Marshal(a.DetectedIndicators)
	if err != nil {
		return Alert{}, fmt.Errorf("crisis: marshal indicators: %w", err)
	}
	actions, err := json.Marshal(a.ResponseActions)
	if err != nil {
		return Alert{}, fmt.Errorf("crisis: marshal actions: %w", err)
	}
	a.UpdatedAt = a.DetectedAt

	_, err = s.db.Exec(ctx, `
		INSERT INTO crisis_alerts (id, org_id, user_id, session_id, crisis_type, risk_level, confidence_score,
			detected_indicators, status, trigger_message, context_messages, response_actions, detected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, a.ID, a.OrgID, a.UserID, a.SessionID, a.CrisisType, a.RiskLevel, a.ConfidenceScore,
		indicators, a.Status, a.TriggerMessage, a.ContextMessages, actions, a.DetectedAt)
	if err != nil {
		return Alert{}, fmt.Errorf("crisis: insert alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Alert, error) {
	a, err := scanAlert(s.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM crisis_alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("crisis: get alert: %w", err)
	}
	return a, nil
}

// ApplyTransition is a compare-and-set on status. The matching timestamp
// column is stamped and t.Actions are merged into response_actions.
func (s *PostgresStore) ApplyTransition(ctx context.Context, id string, t Transition) (Alert, error) {
	actions, err := json.Marshal(nonNilActions(t.Actions))
	if err != nil {
		return Alert{}, fmt.Errorf("crisis: marshal actions: %w", err)
	}
	a, err := scanAlert(s.db.QueryRow(ctx, `
		UPDATE crisis_alerts SET
			status = $3::text,
			acknowledged_at = CASE WHEN $3::text = 'acknowledged' THEN $4::timestamptz ELSE acknowledged_at END,
			escalated_at = CASE WHEN $3::text = 'escalated' THEN $4::timestamptz ELSE escalated_at END,
			resolved_at = CASE WHEN $3::text = 'resolved' THEN $4::timestamptz ELSE resolved_at END,
			assigned_responder_id = COALESCE(assigned_responder_id, NULLIF($5, '')::uuid),
			resolution_notes = COALESCE(NULLIF($6, ''), resolution_notes),
			response_actions = response_actions || $7::jsonb,
			updated_at = $4::timestamptz
		WHERE id = $1 AND status = $2
		RETURNING `+alertColumns,
		id, t.From, t.To, t.At.UTC(), t.ResponderID, t.Notes, actions))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, fmt.Errorf("crisis: update status: %w", err)
	}

	var current string
	err = s.db.QueryRow(ctx, `SELECT status FROM crisis_alerts WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("crisis: read status: %w", err)
	}
	return Alert{}, fmt.Errorf("crisis: alert %s is %s, expected %s: %w", id, current, t.From, ErrStatusChanged)
}

func (s *PostgresStore) AppendActions(ctx context.Context, id string, actions Actions) error {
	data, err := json.Marshal(nonNilActions(actions))
	if err != nil {
		return fmt.Errorf("crisis: marshal actions: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE crisis_alerts SET response_actions = response_actions || $2::jsonb, updated_at = now()
		WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("crisis: append actions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// List orders by risk level (critical first) and then newest detection.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Alert, error) {
	f = f.normalized()
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.OrgID != "" {
		add("org_id = $%d", f.OrgID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.RiskLevel != "" {
		add("risk_level = $%d", f.RiskLevel)
	}
	if f.ResponderID != "" {
		add("assigned_responder_id::text = $%d", f.ResponderID)
	}
	if !f.IncludeResolved {
		where = append(where, "status <> 'resolved'")
	}

	query := `SELECT ` + alertColumns + ` FROM crisis_alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(`
		ORDER BY CASE risk_level WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			detected_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("crisis: list alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("crisis: scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crisis: iterate alerts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Stats(ctx context.Context, orgID string, since, now time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'acknowledged'),
			COUNT(*) FILTER (WHERE status = 'escalated'),
			COUNT(*) FILTER (WHERE status = 'resolved'),
			COUNT(*) FILTER (WHERE risk_level IN ('high', 'critical')),
			COUNT(*) FILTER (WHERE detected_at >= $3),
			COUNT(*) FILTER (WHERE assigned_responder_id IS NULL AND status <> 'resolved'),
			COALESCE(AVG(EXTRACT(EPOCH FROM (acknowledged_at - detected_at)) / 3600.0)
				FILTER (WHERE acknowledged_at IS NOT NULL), 0)::float8
		FROM crisis_alerts
		WHERE detected_at >= $1 AND ($2 = '' OR org_id = $2)
	`, since.UTC(), orgID, now.Add(-24*time.Hour).UTC()).Scan(
		&st.Total, &st.Pending, &st.Acknowledged, &st.Escalated, &st.Resolved,
		&st.HighPriority, &st.Last24Hours, &st.Unassigned, &st.AvgResponseTimeHours,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("crisis: alert stats: %w", err)
	}
	st.AvgResponseTimeHours = round2(st.AvgResponseTimeHours)
	return st, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		a           Alert
		indicators  []byte
		actions     []byte
		responderID *string
		notes       *string
	)
	err := row.Scan(&a.ID, &a.OrgID, &a.UserID, &a.SessionID, &a.CrisisType, &a.RiskLevel, &a.ConfidenceScore,
		&indicators, &a.Status, &responderID, &a.TriggerMessage, &a.ContextMessages,
		&actions, &notes, &a.DetectedAt, &a.AcknowledgedAt, &a.EscalatedAt, &a.ResolvedAt, &a.UpdatedAt)
	if err != nil {
		return Alert{}, err
	}
	if len(indicators) > 0 {
		if err := json.Unmarshal(indicators, &a.DetectedIndicators); err != nil {
			return Alert{}, fmt.Errorf("crisis: decode indicators: %w", err)
		}
	}
	a.ResponseActions = Actions{}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &a.ResponseActions); err != nil {
			return Alert{}, fmt.Errorf("crisis: decode actions: %w", err)
		}
	}
	if responderID != nil {
		a.AssignedResponderID = *responderID
	}
	if notes != nil {
		a.ResolutionNotes = *notes
	}
	return a, nil
}

func nonNilActions(a Actions) Actions {
	if a == nil {
		return Actions{}
	}
	return a
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
