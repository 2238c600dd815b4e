package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/triage-engine/internal/crisis"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// AlertRecorder turns crisis lifecycle events into envelopes. With an outbox
// they are persisted for the Deliverer; without one they go straight to the
// handler.
type AlertRecorder struct {
	outbox  *OutboxStore
	handler DeliveryHandler
	logger  *logging.Logger
}

var _ crisis.EventRecorder = (*AlertRecorder)(nil)

func NewOutboxRecorder(outbox *OutboxStore, logger *logging.Logger) *AlertRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &AlertRecorder{outbox: outbox, logger: logger}
}

func NewDirectRecorder(handler DeliveryHandler, logger *logging.Logger) *AlertRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &AlertRecorder{handler: handler, logger: logger}
}

func (r *AlertRecorder) Record(ctx context.Context, e crisis.Event) error {
	evt := NewAlertLifecycleV1(e)
	aggregate := AlertAggregate(e.Alert.ID)
	opts := []EnvelopeOption{WithTimestamp(evt.OccurredAt), WithCorrelationID(e.Alert.SessionID)}

	if r.outbox != nil {
		env, err := r.outbox.Append(ctx, evt.OrgID, aggregate, evt, opts...)
		if err != nil {
			return err
		}
		r.logger.Debug("alert event queued", env.LogAttrs()...)
		return nil
	}
	if r.handler == nil {
		return nil
	}

	env, err := NewEnvelope(evt.OrgID, aggregate, evt, opts...)
	if err != nil {
		return err
	}
	r.logger.Debug("alert event delivering", env.LogAttrs()...)
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	return r.handler.Handle(ctx, OutboxEntry{
		ID:        env.EventID,
		OrgID:     env.OrgID,
		Aggregate: env.Aggregate,
		Type:      env.EventType,
		Payload:   data,
		CreatedAt: evt.OccurredAt,
	})
}

// Fanout hands each entry to every handler and joins their errors.
type Fanout []DeliveryHandler

func (f Fanout) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
