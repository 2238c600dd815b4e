package conversation

import "errors"

var (
	// ErrJobNotFound indicates the requested job ID does not exist.
	ErrJobNotFound = errors.New("conversation: job not found")
	// ErrSessionNotFound indicates the session has never received a turn.
	ErrSessionNotFound = errors.New("conversation: session not found")
)
