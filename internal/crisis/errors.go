package crisis

import (
	"errors"
	"fmt"
)

var (
	// ErrAlertNotFound is returned when no alert matches the id.
	ErrAlertNotFound = errors.New("crisis: alert not found")
	// ErrInvalidStatusTransition rejects a status change the lifecycle does not allow.
	ErrInvalidStatusTransition = errors.New("crisis: invalid status transition")
	// ErrStatusChanged means another writer moved the alert first.
	ErrStatusChanged = errors.New("crisis: alert status changed concurrently")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("crisis: cannot move alert from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}
