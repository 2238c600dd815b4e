package conversation

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// NewJobID returns a time-sortable job identifier.
func NewJobID() string {
	return ulid.Make().String()
}

// Publisher enqueues turn jobs for asynchronous processing.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueTurn publishes a turn job. Turns of one session share a FIFO message group.
func (p *Publisher) EnqueueTurn(ctx context.Context, jobID string, req triage.TurnRequest, opts ...PublishOption) error {
	payload := queuePayload{
		ID:          jobID,
		Kind:        jobTypeTurn,
		Turn:        req,
		TrackStatus: true,
	}
	for _, opt := range opts {
		opt(&payload)
	}

	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, body, req.SessionID, payload.ID); err != nil {
		return fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("turn job enqueued", "job_id", payload.ID, "session_id", req.SessionID)
	return nil
}
