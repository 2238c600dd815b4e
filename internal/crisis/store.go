package crisis

import (
	"context"
	"time"
)

// Store persists alerts. Status changes go through ApplyTransition, which
// succeeds only while the stored status still equals t.From.
type Store interface {
	Create(ctx context.Context, a Alert) (Alert, error)
	Get(ctx context.Context, id string) (Alert, error)
	ApplyTransition(ctx context.Context, id string, t Transition) (Alert, error)
	AppendActions(ctx context.Context, id string, actions Actions) error
	List(ctx context.Context, f Filter) ([]Alert, error)
	Stats(ctx context.Context, orgID string, since, now time.Time) (Stats, error)
}
