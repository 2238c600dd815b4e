package crisis

import (
	"context"
	"time"

	"github.com/wolfman30/triage-engine/internal/responders"
)

// EventKind names a lifecycle change.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventAssigned     EventKind = "assigned"
	EventUnassigned   EventKind = "unassigned"
	EventAcknowledged EventKind = "acknowledged"
	EventEscalated    EventKind = "escalated"
	EventResolved     EventKind = "resolved"
)

// Event is published after each lifecycle change.
type Event struct {
	Kind  EventKind
	Alert Alert
	At    time.Time
}

// EventRecorder receives lifecycle events, typically by writing them to the outbox.
type EventRecorder interface {
	Record(ctx context.Context, e Event) error
}

// Notification is what the notifier needs to reach people about an alert.
type Notification struct {
	Alert      Alert
	Responder  *responders.Responder
	Unassigned bool
}

// Notifier delivers alert notices and returns the kinds it attempted.
type Notifier interface {
	NotifyAlert(ctx context.Context, n Notification) []string
}

// Archiver stores a snapshot of a resolved alert.
type Archiver interface {
	Archive(ctx context.Context, a Alert) error
}
