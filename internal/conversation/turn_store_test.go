package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/triage-engine/internal/triage"
)

func TestPostgresTurnStore_AppendTurn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO chat_sessions").
		WithArgs("s1", "org-1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"total_turns"}).AddRow(3))
	mock.ExpectQuery("INSERT INTO conversation_turns").
		WithArgs(pgxmock.AnyArg(), "s1", triage.RoleUser, "hello", 3).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectCommit()

	store := NewPostgresTurnStore(mock)
	turn, err := store.AppendTurn(context.Background(), triage.SessionKey{OrgID: "org-1", UserID: "u1", SessionID: "s1"}, triage.RoleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, 3, turn.Ordinal)
	assert.Equal(t, created, turn.CreatedAt)
	assert.NotEmpty(t, turn.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTurnStore_AppendTurnRollsBackOnInsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO chat_sessions").
		WithArgs("s1", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"total_turns"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO conversation_turns").
		WithArgs(pgxmock.AnyArg(), "s1", triage.RoleAssistant, "reply", 1).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	store := NewPostgresTurnStore(mock)
	_, err = store.AppendTurn(context.Background(), triage.SessionKey{SessionID: "s1"}, triage.RoleAssistant, "reply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert turn")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTurnStore_AppendTurnRejectsForeignSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("WHERE chat_sessions.org_id = EXCLUDED.org_id AND chat_sessions.user_id = EXCLUDED.user_id").
		WithArgs("s1", "org-b", "intruder").
		WillReturnRows(pgxmock.NewRows([]string{"total_turns"}))
	mock.ExpectRollback()

	store := NewPostgresTurnStore(mock)
	_, err = store.AppendTurn(context.Background(), triage.SessionKey{OrgID: "org-b", UserID: "intruder", SessionID: "s1"}, triage.RoleUser, "hello")
	assert.ErrorIs(t, err, triage.ErrSessionOwnership)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTurnStore_RecentTurns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("FROM conversation_turns").
		WithArgs("s1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_id", "role", "text", "ordinal", "created_at"}).
			AddRow("t4", "s1", "user", "first", 4, now).
			AddRow("t5", "s1", "assistant", "second", 5, now))

	store := NewPostgresTurnStore(mock)
	turns, err := store.RecentTurns(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 4, turns[0].Ordinal)
	assert.Equal(t, "second", turns[1].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTurnStore_CountTurnsSince(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("s1", since.UTC()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := NewPostgresTurnStore(mock).CountTurnsSince(context.Background(), "s1", since)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTurnStore_RecentSummaries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT summary FROM chat_sessions").
		WithArgs("u1", "s1", pgxmock.AnyArg(), 3).
		WillReturnRows(pgxmock.NewRows([]string{"summary"}).AddRow("newest").AddRow("older"))

	store := NewPostgresTurnStore(mock)
	summaries, err := store.RecentSummaries(context.Background(), "u1", "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "older"}, summaries)

	empty, err := store.RecentSummaries(context.Background(), "", "s1", 3)
	require.NoError(t, err)
	assert.Nil(t, empty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTurnStore_EndSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE chat_sessions SET summary").
		WithArgs("s1", "org-1", "talked about exams").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE chat_sessions SET summary").
		WithArgs("missing", "org-1", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("WHERE id = \\$1 AND org_id = \\$2").
		WithArgs("s1", "org-2", "x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewPostgresTurnStore(mock)
	require.NoError(t, store.EndSession(context.Background(), "org-1", "s1", " talked about exams "))
	assert.ErrorIs(t, store.EndSession(context.Background(), "org-1", "missing", ""), ErrSessionNotFound)
	assert.ErrorIs(t, store.EndSession(context.Background(), "org-2", "s1", "x"), ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryTurnStore(t *testing.T) {
	store := NewMemoryTurnStore()
	ctx := context.Background()
	key := triage.SessionKey{UserID: "u1", SessionID: "s1"}

	for i, text := range []string{"one", "two", "three"} {
		turn, err := store.AppendTurn(ctx, key, triage.RoleUser, text)
		require.NoError(t, err)
		assert.Equal(t, i+1, turn.Ordinal)
	}

	recent, err := store.RecentTurns(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Text)
	assert.Equal(t, "three", recent[1].Text)

	count, err := store.CountTurnsSince(ctx, "s1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	count, err = store.CountTurnsSince(ctx, "s1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, store.EndSession(ctx, "", "nope", "x"), ErrSessionNotFound)

	_, err = store.AppendTurn(ctx, triage.SessionKey{UserID: "u1", SessionID: "s0"}, triage.RoleUser, "earlier")
	require.NoError(t, err)
	require.NoError(t, store.EndSession(ctx, "", "s0", "worried about work"))
	require.NoError(t, store.EndSession(ctx, "", "s1", "current session"))

	summaries, err := store.RecentSummaries(ctx, "u1", "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"worried about work"}, summaries)

	_, err = store.AppendTurn(ctx, triage.SessionKey{}, triage.RoleUser, "x")
	assert.Error(t, err)
}

func TestMemoryTurnStore_RejectsForeignSession(t *testing.T) {
	store := NewMemoryTurnStore()
	ctx := context.Background()
	owner := triage.SessionKey{OrgID: "org-a", UserID: "u1", SessionID: "s1"}

	_, err := store.AppendTurn(ctx, owner, triage.RoleUser, "private org A text")
	require.NoError(t, err)

	for _, key := range []triage.SessionKey{
		{OrgID: "org-b", UserID: "u1", SessionID: "s1"},
		{OrgID: "org-a", UserID: "u2", SessionID: "s1"},
	} {
		_, err = store.AppendTurn(ctx, key, triage.RoleUser, "let me in")
		assert.ErrorIs(t, err, triage.ErrSessionOwnership)
	}
	assert.ErrorIs(t, store.EndSession(ctx, "org-b", "s1", "x"), ErrSessionNotFound)

	turns, err := store.RecentTurns(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "private org A text", turns[0].Text)
	require.NoError(t, store.EndSession(ctx, "org-a", "s1", "done"))
}
