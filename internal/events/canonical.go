package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSource names this service on every envelope it emits.
const DefaultSource = "triage-engine"

// CanonicalEvent is a domain event whose type ends in a ".v<N>" schema
// version, e.g. "crisis.alert.created.v1".
type CanonicalEvent interface {
	EventType() string
}

// Routable events name a routing key for downstream fan-out. Alert events
// route on kind and risk level so pagers can bind to critical traffic only.
type Routable interface {
	RoutingKey() string
}

// Envelope is the wire form of every event leaving the process.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	SchemaVersion   int             `json:"schema_version"`
	Source          string          `json:"source"`
	RoutingKey      string          `json:"routing_key,omitempty"`
	Aggregate       string          `json:"aggregate"`
	OrgID           string          `json:"org_id,omitempty"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// LogAttrs returns the fields logged whenever an envelope is queued or
// delivered.
func (e Envelope) LogAttrs() []any {
	attrs := []any{"event_id", e.EventID, "type", e.EventType, "aggregate", e.Aggregate}
	if e.OrgID != "" {
		attrs = append(attrs, "org_id", e.OrgID)
	}
	if e.RoutingKey != "" {
		attrs = append(attrs, "routing_key", e.RoutingKey)
	}
	if e.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", e.CorrelationID)
	}
	return attrs
}

type EnvelopeOption func(*Envelope)

func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp overrides the timestamp stored in microseconds.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.TimestampMicros = ts.UTC().UnixMicro()
		}
	}
}

// WithCorrelationID ties the envelope to the turn or request that caused it.
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) {
		e.CorrelationID = strings.TrimSpace(id)
	}
}

func WithSource(source string) EnvelopeOption {
	return func(e *Envelope) {
		if s := strings.TrimSpace(source); s != "" {
			e.Source = s
		}
	}
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: canonical event required")
	errEventType        = errors.New("events: event type must end in .v<N>")
	nowFunc             = time.Now
)

// schemaVersion splits the trailing ".v<N>" off an event type.
func schemaVersion(eventType string) (int, error) {
	i := strings.LastIndex(eventType, ".v")
	if i <= 0 {
		return 0, fmt.Errorf("%w: %q", errEventType, eventType)
	}
	n, err := strconv.Atoi(eventType[i+2:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", errEventType, eventType)
	}
	return n, nil
}

// NewEnvelope wraps evt for delivery without persisting it.
func NewEnvelope(orgID, aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	version, err := schemaVersion(eventType)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
	}

	env := Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		SchemaVersion:   version,
		Source:          DefaultSource,
		Aggregate:       aggregate,
		OrgID:           strings.TrimSpace(orgID),
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		Payload:         payload,
	}
	if r, ok := evt.(Routable); ok {
		env.RoutingKey = r.RoutingKey()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// DecodeEnvelope parses a stored envelope and checks its event type.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	if env.SchemaVersion == 0 {
		v, err := schemaVersion(env.EventType)
		if err != nil {
			return Envelope{}, err
		}
		env.SchemaVersion = v
	}
	return env, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AppendCanonicalEvent writes the envelope to the outbox through exec. Pass a
// transaction to commit the event with the alert change that caused it.
func AppendCanonicalEvent(ctx context.Context, exec execer, orgID, aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	if exec == nil {
		return Envelope{}, fmt.Errorf("events: exec required")
	}
	env, err := NewEnvelope(orgID, aggregate, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	const query = `
		INSERT INTO outbox (id, org_id, aggregate, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := exec.Exec(ctx, query, env.EventID, env.OrgID, env.Aggregate, env.EventType, data); err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return env, nil
}
