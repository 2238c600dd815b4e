package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/triage-engine/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "org-1", "crisis_alert:alert-1", "crisis.alert.created.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	_, err = store.Append(context.Background(), "org-1", "crisis_alert:alert-1", sampleEvent())
	require.NoError(t, err)

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "org_id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(id, "org-1", "crisis_alert:alert-1", "crisis.alert.created.v1", []byte(`{"event_type":"crisis.alert.created.v1"}`), now)
	mock.ExpectQuery("FROM outbox").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "crisis_alert:alert-1", entries[0].Aggregate)

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

type memoryPending struct {
	entries   []OutboxEntry
	delivered map[uuid.UUID]bool
}

func (m *memoryPending) FetchPending(_ context.Context, limit int32) ([]OutboxEntry, error) {
	var out []OutboxEntry
	for _, e := range m.entries {
		if !m.delivered[e.ID] && int32(len(out)) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryPending) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	if m.delivered[id] {
		return false, nil
	}
	m.delivered[id] = true
	return true, nil
}

type flakyHandler struct {
	failFor map[uuid.UUID]int
	seen    []uuid.UUID
}

func (f *flakyHandler) Handle(_ context.Context, entry OutboxEntry) error {
	f.seen = append(f.seen, entry.ID)
	if f.failFor[entry.ID] > 0 {
		f.failFor[entry.ID]--
		return errors.New("broker unavailable")
	}
	return nil
}

func TestDeliverer_RetriesFailedEntries(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := &memoryPending{
		entries:   []OutboxEntry{{ID: a, Type: "crisis.alert.created.v1"}, {ID: b, Type: "crisis.alert.assigned.v1"}},
		delivered: map[uuid.UUID]bool{},
	}
	handler := &flakyHandler{failFor: map[uuid.UUID]int{b: 1}}
	d := &Deliverer{store: store, handler: handler, logger: logging.Default(), batchSize: 25}

	assert.Equal(t, 1, d.drain(context.Background()))
	assert.True(t, store.delivered[a])
	assert.False(t, store.delivered[b])

	assert.Equal(t, 1, d.drain(context.Background()))
	assert.True(t, store.delivered[b])
	assert.Equal(t, []uuid.UUID{a, b, b}, handler.seen)
}
