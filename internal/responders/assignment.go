package responders

import (
	"context"
	"time"
)

// Outcome is the observable result of one assignment attempt.
type Outcome string

const (
	OutcomeAssigned          Outcome = "assigned"
	OutcomeUnassigned        Outcome = "unassigned"
	OutcomeConflictExhausted Outcome = "conflict_exhausted"
)

// Assignment records a committed binding of an alert to a responder.
type Assignment struct {
	ID                  string    `json:"id"`
	AlertID             string    `json:"alert_id"`
	Responder           Responder `json:"responder"`
	Workload            int       `json:"workload"`
	SpecializationScore float64   `json:"specialization_score"`
	RolePriority        int       `json:"role_priority"`
	Score               float64   `json:"assignment_score"`
	Reason              string    `json:"assignment_reason"`
	AssignedAt          time.Time `json:"assigned_at"`
}

// Result is what the lifecycle manager records after assignment.
type Result struct {
	Outcome               Outcome
	Assignment            *Assignment
	NoSpecializationMatch bool
	Candidates            int
	Attempts              int
}

// Assigner binds an alert to the best available responder.
type Assigner interface {
	Assign(ctx context.Context, req Request) (Result, error)
}

// Store is the responder persistence used outside the assignment path.
type Store interface {
	Assigner
	Get(ctx context.Context, id string) (Responder, error)
	Create(ctx context.Context, r Responder) (Responder, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Responder, error)
	Availability(ctx context.Context, orgID string) (Availability, error)
	CreateSession(ctx context.Context, s Session) (Session, error)
}

func newAssignment(id, alertID string, s Scored, now time.Time) *Assignment {
	return &Assignment{
		ID:                  id,
		AlertID:             alertID,
		Responder:           s.Candidate.Responder,
		Workload:            s.Workload,
		SpecializationScore: s.SpecializationScore,
		RolePriority:        s.RolePriority,
		Score:               s.Score,
		Reason:              s.Reason(),
		AssignedAt:          now,
	}
}
