package responders

import "errors"

var (
	// ErrNoEligibleResponder means no active or busy responder exists for the org.
	ErrNoEligibleResponder = errors.New("responders: no eligible responder")
	// ErrAssignmentConflict means the workload read lost a race and retries ran out.
	ErrAssignmentConflict = errors.New("responders: assignment conflict")
	ErrResponderNotFound  = errors.New("responders: responder not found")
	ErrInvalidStatus      = errors.New("responders: invalid status")
)
