package responders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/triage-engine/internal/observability/metrics"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

var assignmentTracer = otel.Tracer("triage/responders/assignment")

const defaultMaxAttempts = 3

// SQLSTATE codes that mean the transaction lost a race and can be replayed.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

var activeAlertStatuses = []string{"pending", "acknowledged", "escalated"}
var activeSessionStatuses = []string{string(SessionScheduled), string(SessionInProgress)}

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps responders and sessions in Postgres and performs
// assignment as a single read-score-write transaction.
type PostgresStore struct {
	db          db
	maxAttempts int
	logger      *logging.Logger
	metrics     *metrics.TriageMetrics
	now         func() time.Time
}

var _ Store = (*PostgresStore)(nil)

type PostgresOption func(*PostgresStore)

// WithMaxAttempts bounds how many times a conflicting assignment is replayed.
func WithMaxAttempts(n int) PostgresOption {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithMetrics(m *metrics.TriageMetrics) PostgresOption {
	return func(s *PostgresStore) {
		s.metrics = m
	}
}

// NewPostgresStore accepts a *pgxpool.Pool or any compatible handle.
func NewPostgresStore(db db, logger *logging.Logger, opts ...PostgresOption) *PostgresStore {
	if db == nil {
		panic("responders: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &PostgresStore{
		db:          db,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assign binds req.AlertID to the best candidate. Lost races are replayed with
// a fresh workload read; when attempts run out the outcome is conflict_exhausted.
func (s *PostgresStore) Assign(ctx context.Context, req Request) (Result, error) {
	ctx, span := assignmentTracer.Start(ctx, "responders.assign")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.id", req.AlertID),
		attribute.String("crisis.type", string(req.CrisisType)),
		attribute.String("risk.level", string(req.Level)),
	)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		res, err := s.assignOnce(ctx, req)
		if err == nil {
			res.Attempts = attempt
			if res.Assignment != nil {
				span.SetAttributes(attribute.String("responder.id", res.Assignment.Responder.ID))
			}
			return res, nil
		}
		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "assignment failed")
			return Result{Attempts: attempt}, err
		}
		s.metrics.ObserveAssignmentRetry()
		s.logger.Warn("assignment conflict, retrying", "alert_id", req.AlertID, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return Result{Attempts: attempt}, ctx.Err()
		}
	}

	s.logger.Error("assignment retries exhausted", "alert_id", req.AlertID, "attempts", s.maxAttempts)
	return Result{Outcome: OutcomeConflictExhausted, Attempts: s.maxAttempts}, nil
}

func (s *PostgresStore) assignOnce(ctx context.Context, req Request) (Result, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("responders: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row locks on the candidate set serialize concurrent assigners for the org.
	cands, err := scanCandidates(ctx, tx, `
		SELECT id, org_id, name, email, role, specializations, status, created_at
		FROM responders
		WHERE org_id = $1 AND status IN ('active', 'busy')
		ORDER BY id
		FOR UPDATE
	`, req.OrgID)
	if err != nil {
		return Result{}, err
	}
	if len(cands) == 0 {
		return Result{Outcome: OutcomeUnassigned}, nil
	}
	if err := loadWorkload(ctx, tx, cands); err != nil {
		return Result{}, err
	}

	best, noMatch, err := Select(cands, req)
	if err != nil {
		return Result{}, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE crisis_alerts SET assigned_responder_id = $2, updated_at = now()
		WHERE id = $1 AND assigned_responder_id IS NULL
	`, req.AlertID, best.Candidate.Responder.ID)
	if err != nil {
		return Result{}, fmt.Errorf("responders: bind alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Result{}, fmt.Errorf("responders: alert %s already assigned: %w", req.AlertID, ErrAssignmentConflict)
	}

	assignment := newAssignment(uuid.NewString(), req.AlertID, best, s.now().UTC())
	_, err = tx.Exec(ctx, `
		INSERT INTO crisis_assignments (id, alert_id, responder_id, workload, specialization_score, role_priority, assignment_score, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, assignment.ID, assignment.AlertID, assignment.Responder.ID, assignment.Workload,
		assignment.SpecializationScore, assignment.RolePriority, assignment.Score, assignment.Reason, assignment.AssignedAt)
	if err != nil {
		return Result{}, fmt.Errorf("responders: insert assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("responders: commit assignment: %w", err)
	}
	return Result{
		Outcome:               OutcomeAssigned,
		Assignment:            assignment,
		NoSpecializationMatch: noMatch,
		Candidates:            len(cands),
	}, nil
}

func scanCandidates(ctx context.Context, q querier, sql string, args ...any) ([]Candidate, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("responders: query responders: %w", err)
	}
	defer rows.Close()

	var cands []Candidate
	for rows.Next() {
		var (
			r     Responder
			email *string
		)
		if err := rows.Scan(&r.ID, &r.OrgID, &r.Name, &email, &r.Role, &r.Specializations, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("responders: scan responder: %w", err)
		}
		if email != nil {
			r.Email = *email
		}
		cands = append(cands, Candidate{Responder: r})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("responders: iterate responders: %w", err)
	}
	return cands, nil
}

// loadWorkload fills live crisis and session counts. Nothing is cached between calls.
func loadWorkload(ctx context.Context, q querier, cands []Candidate) error {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Responder.ID
	}

	crises, err := countBy(ctx, q, `
		SELECT assigned_responder_id::text, COUNT(*) FROM crisis_alerts
		WHERE assigned_responder_id::text = ANY($1) AND status = ANY($2)
		GROUP BY assigned_responder_id
	`, ids, activeAlertStatuses)
	if err != nil {
		return fmt.Errorf("responders: count active alerts: %w", err)
	}
	sessions, err := countBy(ctx, q, `
		SELECT responder_id::text, COUNT(*) FROM responder_sessions
		WHERE responder_id::text = ANY($1) AND status = ANY($2)
		GROUP BY responder_id
	`, ids, activeSessionStatuses)
	if err != nil {
		return fmt.Errorf("responders: count active sessions: %w", err)
	}

	for i := range cands {
		cands[i].ActiveCrises = crises[cands[i].Responder.ID]
		cands[i].ActiveSessions = sessions[cands[i].Responder.ID]
	}
	return nil
}

func countBy(ctx context.Context, q querier, sql string, args ...any) (map[string]int, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Responder, error) {
	cands, err := scanCandidates(ctx, s.db, `
		SELECT id, org_id, name, email, role, specializations, status, created_at
		FROM responders WHERE id = $1
	`, id)
	if err != nil {
		return Responder{}, err
	}
	if len(cands) == 0 {
		return Responder{}, ErrResponderNotFound
	}
	return cands[0].Responder, nil
}

func (s *PostgresStore) Create(ctx context.Context, r Responder) (Responder, error) {
	if strings.TrimSpace(r.OrgID) == "" || strings.TrimSpace(r.Name) == "" {
		return Responder{}, errors.New("responders: org id and name are required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Role == "" {
		r.Role = RoleCounselor
	}
	if r.Specializations == nil {
		r.Specializations = []string{}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO responders (id, org_id, name, email, role, specializations, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING created_at
	`, r.ID, r.OrgID, r.Name, r.Email, r.Role, r.Specializations, r.Status).Scan(&r.CreatedAt)
	if err != nil {
		return Responder{}, fmt.Errorf("responders: insert responder: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) (Responder, error) {
	tag, err := s.db.Exec(ctx, `UPDATE responders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return Responder{}, fmt.Errorf("responders: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Responder{}, ErrResponderNotFound
	}
	return s.Get(ctx, id)
}

// Availability reports every responder of the org with live counts.
func (s *PostgresStore) Availability(ctx context.Context, orgID string) (Availability, error) {
	cands, err := scanCandidates(ctx, s.db, `
		SELECT id, org_id, name, email, role, specializations, status, created_at
		FROM responders WHERE org_id = $1
		ORDER BY id
	`, orgID)
	if err != nil {
		return Availability{}, err
	}
	if len(cands) > 0 {
		if err := loadWorkload(ctx, s.db, cands); err != nil {
			return Availability{}, err
		}
	}
	return buildAvailability(cands), nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = SessionScheduled
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO responder_sessions (id, responder_id, user_id, alert_id, session_type, status, scheduled_for, duration_minutes, meeting_link, notes)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, sess.ID, sess.ResponderID, sess.UserID, sess.AlertID, sess.SessionType, sess.Status,
		sess.ScheduledFor.UTC(), sess.DurationMinutes, sess.MeetingLink, sess.Notes).Scan(&sess.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("responders: insert session: %w", err)
	}
	return sess, nil
}
