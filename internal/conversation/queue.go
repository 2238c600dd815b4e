package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/triage-engine/internal/triage"
)

// Queue is the turn job transport: SQS in production, MemoryQueue locally.
type Queue interface {
	// Send enqueues body. groupID orders messages that share it on FIFO queues.
	Send(ctx context.Context, body, groupID, dedupID string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const jobTypeTurn jobType = "turn"

type queuePayload struct {
	ID          string             `json:"id"`
	Kind        jobType            `json:"kind"`
	Turn        triage.TurnRequest `json:"turn"`
	TrackStatus bool               `json:"track_status"`
}

type PublishOption func(*queuePayload)

// WithoutJobTracking disables job status persistence for fire-and-forget work.
func WithoutJobTracking() PublishOption {
	return func(p *queuePayload) {
		p.TrackStatus = false
	}
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if strings.TrimSpace(payload.ID) == "" {
		payload.ID = NewJobID()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}

func decodePayload(body string) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return queuePayload{}, fmt.Errorf("conversation: failed to decode payload: %w", err)
	}
	return payload, nil
}
