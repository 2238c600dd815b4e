package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/triage-engine/internal/triage"
)

// summaryLookback bounds how far back session summaries feed pattern detection.
const summaryLookback = 30 * 24 * time.Hour

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresTurnStore persists sessions and turns in Postgres.
type PostgresTurnStore struct {
	db  db
	now func() time.Time
}

var _ triage.TurnStore = (*PostgresTurnStore)(nil)

// NewPostgresTurnStore accepts a *pgxpool.Pool or any compatible handle.
func NewPostgresTurnStore(db db) *PostgresTurnStore {
	if db == nil {
		panic("conversation: db cannot be nil")
	}
	return &PostgresTurnStore{db: db, now: time.Now}
}

// AppendTurn upserts the session row and inserts the turn in one transaction.
// The session row lock serializes ordinal assignment across writers. The
// upsert only touches a session started by the same org and user; otherwise
// no row comes back and the turn is rejected.
func (s *PostgresTurnStore) AppendTurn(ctx context.Context, key triage.SessionKey, role, text string) (triage.Turn, error) {
	if strings.TrimSpace(key.SessionID) == "" {
		return triage.Turn{}, errors.New("conversation: session id required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return triage.Turn{}, fmt.Errorf("conversation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var ordinal int
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, org_id, user_id, total_turns, last_message_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (id) DO UPDATE
		SET total_turns = chat_sessions.total_turns + 1, last_message_at = now()
		WHERE chat_sessions.org_id = EXCLUDED.org_id AND chat_sessions.user_id = EXCLUDED.user_id
		RETURNING total_turns
	`, key.SessionID, key.OrgID, key.UserID).Scan(&ordinal)
	if errors.Is(err, pgx.ErrNoRows) {
		return triage.Turn{}, fmt.Errorf("conversation: session %s: %w", key.SessionID, triage.ErrSessionOwnership)
	}
	if err != nil {
		return triage.Turn{}, fmt.Errorf("conversation: upsert session: %w", err)
	}

	turn := triage.Turn{
		ID:        uuid.NewString(),
		SessionID: key.SessionID,
		Role:      role,
		Text:      text,
		Ordinal:   ordinal,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO conversation_turns (id, session_id, role, text, ordinal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, turn.ID, turn.SessionID, turn.Role, turn.Text, turn.Ordinal).Scan(&turn.CreatedAt)
	if err != nil {
		return triage.Turn{}, fmt.Errorf("conversation: insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return triage.Turn{}, fmt.Errorf("conversation: commit turn: %w", err)
	}
	return turn, nil
}

// RecentTurns returns up to limit turns, oldest first.
func (s *PostgresTurnStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]triage.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, role, text, ordinal, created_at FROM (
			SELECT id, session_id, role, text, ordinal, created_at
			FROM conversation_turns
			WHERE session_id = $1
			ORDER BY ordinal DESC
			LIMIT $2
		) recent
		ORDER BY ordinal ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: query turns: %w", err)
	}
	defer rows.Close()

	var turns []triage.Turn
	for rows.Next() {
		var t triage.Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Text, &t.Ordinal, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate turns: %w", err)
	}
	return turns, nil
}

func (s *PostgresTurnStore) CountTurnsSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversation_turns
		WHERE session_id = $1 AND created_at >= $2
	`, sessionID, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conversation: count turns: %w", err)
	}
	return count, nil
}

// RecentSummaries returns the newest summaries of the user's other sessions.
func (s *PostgresTurnStore) RecentSummaries(ctx context.Context, userID, excludeSessionID string, limit int) ([]string, error) {
	if strings.TrimSpace(userID) == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT summary FROM chat_sessions
		WHERE user_id = $1 AND id <> $2
		  AND summary IS NOT NULL AND summary <> ''
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT $4
	`, userID, excludeSessionID, s.now().Add(-summaryLookback).UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("conversation: scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate summaries: %w", err)
	}
	return summaries, nil
}

// EndSession stores the closing summary used by later pattern detection.
// Sessions of other orgs are reported as not found.
func (s *PostgresTurnStore) EndSession(ctx context.Context, orgID, sessionID, summary string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE chat_sessions SET summary = $3, ended_at = now()
		WHERE id = $1 AND org_id = $2
	`, sessionID, orgID, strings.TrimSpace(summary))
	if err != nil {
		return fmt.Errorf("conversation: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
