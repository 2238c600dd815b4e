package triage

import "errors"

var (
	// ErrAssessmentParse means the model output held no valid assessment object.
	ErrAssessmentParse = errors.New("triage: assessment output could not be parsed")
	// ErrUpstreamUnavailable means the text-generation call failed or timed out.
	ErrUpstreamUnavailable = errors.New("triage: text generation unavailable")
	// ErrEmptyTurn rejects a turn with no text.
	ErrEmptyTurn = errors.New("triage: turn text is empty")
	// ErrSessionOwnership rejects a turn for a session started by another org or user.
	ErrSessionOwnership = errors.New("triage: session belongs to another org or user")
)
