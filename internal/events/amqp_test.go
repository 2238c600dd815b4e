package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declared struct {
	name string
	args amqp.Table
}

type fakeChannel struct {
	declared   []declared
	published  []amqp.Publishing
	keys       []string
	publishErr error
	declareErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared = append(f.declared, declared{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher_DeclaresRetryAndDeadLetterQueues(t *testing.T) {
	ch := &fakeChannel{}
	_, err := newAMQPPublisher(ch, "crisis_alert_events", nil)
	require.NoError(t, err)

	require.Len(t, ch.declared, 3)
	assert.Equal(t, "crisis_alert_events.dlq", ch.declared[0].name)
	assert.Equal(t, "crisis_alert_events.retry", ch.declared[1].name)
	assert.Equal(t, "crisis_alert_events", ch.declared[1].args["x-dead-letter-routing-key"])
	assert.Equal(t, "crisis_alert_events", ch.declared[2].name)
	assert.Equal(t, "crisis_alert_events.dlq", ch.declared[2].args["x-dead-letter-routing-key"])
}

func TestAMQPPublisher_Handle(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "crisis_alert_events", nil)
	require.NoError(t, err)

	id := uuid.New()
	created := time.Unix(200, 0).UTC()
	err = p.Handle(context.Background(), OutboxEntry{
		ID: id, OrgID: "org-1", Aggregate: "crisis_alert:a", Type: "crisis.alert.created.v1",
		Payload: []byte(`{}`), CreatedAt: created,
	})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "crisis_alert_events", ch.keys[0])
	assert.Equal(t, id.String(), msg.MessageId)
	assert.Equal(t, "crisis.alert.created.v1", msg.Type)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "org-1", msg.Headers["org_id"])
	assert.Equal(t, created, msg.Timestamp)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_HandleCarriesRoutingHeaders(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "crisis_alert_events", nil)
	require.NoError(t, err)

	env, err := NewEnvelope("org-1", AlertAggregate("alert-1"), sampleEvent(), WithCorrelationID("sess-1"))
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, p.Handle(context.Background(), OutboxEntry{
		ID: env.EventID, OrgID: "org-1", Aggregate: env.Aggregate, Type: env.EventType, Payload: data,
	}))
	require.Len(t, ch.published, 1)
	headers := ch.published[0].Headers
	assert.Equal(t, "crisis.alert.created.critical", headers["routing_key"])
	assert.Equal(t, int32(1), headers["schema_version"])
	assert.Equal(t, DefaultSource, headers["source"])
	assert.Equal(t, "sess-1", headers["correlation_id"])
}

func TestAMQPPublisher_Errors(t *testing.T) {
	_, err := newAMQPPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "q", nil)
	assert.ErrorContains(t, err, "access refused")

	p, err := newAMQPPublisher(&fakeChannel{publishErr: errors.New("channel closed")}, "q", nil)
	require.NoError(t, err)
	assert.ErrorContains(t, p.Handle(context.Background(), OutboxEntry{Type: "t"}), "channel closed")
}
