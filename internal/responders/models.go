package responders

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Role is a responder's clinical role.
type Role string

const (
	RoleCounselor        Role = "counselor"
	RolePsychologist     Role = "psychologist"
	RolePsychiatrist     Role = "psychiatrist"
	RoleCrisisSpecialist Role = "crisis_specialist"
	RoleSupervisor       Role = "supervisor"
)

// Status is a responder's availability.
type Status string

const (
	StatusActive      Status = "active"
	StatusBusy        Status = "busy"
	StatusOffline     Status = "offline"
	StatusUnavailable Status = "unavailable"
)

// Assignable reports whether responders in this status may receive alerts.
func (s Status) Assignable() bool {
	return s == StatusActive || s == StatusBusy
}

// ParseStatus validates a status string from an admin request.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusActive, StatusBusy, StatusOffline, StatusUnavailable:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Responder is a human who can take crisis alerts for an org.
type Responder struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email,omitempty"`
	Role            Role      `json:"role"`
	Specializations []string  `json:"specializations"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionStatus is the state of a scheduled responder session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Active sessions count toward workload.
func (s SessionStatus) Active() bool {
	return s == SessionScheduled || s == SessionInProgress
}

const SessionTypeCrisis = "crisis"

// Session is a live session booked with a responder.
type Session struct {
	ID              string        `json:"id"`
	ResponderID     string        `json:"responder_id"`
	UserID          string        `json:"user_id"`
	AlertID         string        `json:"alert_id,omitempty"`
	SessionType     string        `json:"session_type"`
	Status          SessionStatus `json:"status"`
	ScheduledFor    time.Time     `json:"scheduled_for"`
	DurationMinutes int           `json:"duration_minutes"`
	MeetingLink     string        `json:"meeting_link,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Candidate is a responder plus the live counts that make up its workload.
type Candidate struct {
	Responder      Responder
	ActiveCrises   int
	ActiveSessions int
}

// ResponderLoad is one row of the availability report.
type ResponderLoad struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
	Status         Status `json:"status"`
	ActiveCrises   int    `json:"active_crisis_count"`
	ActiveSessions int    `json:"active_session_count"`
	TotalLoad      int    `json:"total_workload"`
}

// Availability summarizes responder capacity for an org.
type Availability struct {
	Total             int             `json:"total_responders"`
	ByStatus          map[Status]int  `json:"by_status"`
	CrisisSpecialists int             `json:"crisis_specialists"`
	AverageWorkload   float64         `json:"average_workload"`
	Responders        []ResponderLoad `json:"responders"`
}

func buildAvailability(cands []Candidate) Availability {
	report := Availability{
		ByStatus:   map[Status]int{},
		Responders: make([]ResponderLoad, 0, len(cands)),
	}
	total := 0
	for _, c := range cands {
		r := c.Responder
		// Reported load is unweighted; Workload weighs crises for scoring only.
		load := c.ActiveCrises + c.ActiveSessions
		report.Total++
		report.ByStatus[r.Status]++
		if r.Role == RoleCrisisSpecialist {
			report.CrisisSpecialists++
		}
		total += load
		report.Responders = append(report.Responders, ResponderLoad{
			ID:             r.ID,
			Name:           r.Name,
			Role:           r.Role,
			Status:         r.Status,
			ActiveCrises:   c.ActiveCrises,
			ActiveSessions: c.ActiveSessions,
			TotalLoad:      load,
		})
	}
	if report.Total > 0 {
		report.AverageWorkload = math.Round(float64(total)/float64(report.Total)*100) / 100
	}
	return report
}
