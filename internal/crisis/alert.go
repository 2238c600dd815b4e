package crisis

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/triage-engine/internal/triage"
)

// Status is the lifecycle position of an alert.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusEscalated    Status = "escalated"
	StatusResolved     Status = "resolved"
)

// AnalysisVersion is stamped on every alert created by the detector.
const AnalysisVersion = "v2.0"

const maxContextMessages = 4

// transitions lists the allowed targets for each status. resolved is terminal.
var transitions = map[Status][]Status{
	StatusPending:      {StatusAcknowledged, StatusEscalated, StatusResolved},
	StatusAcknowledged: {StatusEscalated, StatusResolved},
	StatusEscalated:    {StatusResolved},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAcknowledged, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// Active reports whether the alert still counts toward a responder's workload.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAcknowledged || s == StatusEscalated
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("crisis: unknown status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Indicators is the detection evidence stored with an alert.
type Indicators struct {
	RiskFactors          []string `json:"risk_factors"`
	MainConcerns         []string `json:"main_concerns"`
	CognitiveDistortions []string `json:"cognitive_distortions"`
	EmotionalState       string   `json:"emotional_state"`
	UrgencyLevel         int      `json:"urgency_level"`
}

func indicatorsFrom(a triage.Assessment) Indicators {
	return Indicators{
		RiskFactors:          nonNil(a.RiskFactors),
		MainConcerns:         nonNil(a.Concerns),
		CognitiveDistortions: nonNil(a.CognitiveDistortions),
		EmotionalState:       a.EmotionalState,
		UrgencyLevel:         a.UrgencyLevel,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Actions is the append-only audit map kept on each alert.
type Actions map[string]any

// Alert is a detected crisis and its handling state.
type Alert struct {
	ID                  string            `json:"id"`
	OrgID               string            `json:"org_id"`
	UserID              string            `json:"user_id"`
	SessionID           string            `json:"session_id"`
	CrisisType          triage.CrisisType `json:"crisis_type"`
	RiskLevel           triage.RiskLevel  `json:"risk_level"`
	ConfidenceScore     float64           `json:"confidence_score"`
	DetectedIndicators  Indicators        `json:"detected_indicators"`
	Status              Status            `json:"status"`
	AssignedResponderID string            `json:"assigned_responder_id,omitempty"`
	TriggerMessage      string            `json:"trigger_message"`
	ContextMessages     []string          `json:"context_messages"`
	ResponseActions     Actions           `json:"response_actions"`
	ResolutionNotes     string            `json:"resolution_notes,omitempty"`
	DetectedAt          time.Time         `json:"detected_at"`
	AcknowledgedAt      *time.Time        `json:"acknowledged_at,omitempty"`
	EscalatedAt         *time.Time        `json:"escalated_at,omitempty"`
	ResolvedAt          *time.Time        `json:"resolved_at,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Transition is one status change applied by the manager.
type Transition struct {
	From Status
	To   Status
	At   time.Time
	// ResponderID binds the alert when it has no responder yet.
	ResponderID string
	Notes       string
	Actions     Actions
}

// Filter selects alerts for the admin listing.
type Filter struct {
	OrgID           string
	Status          Status
	RiskLevel       triage.RiskLevel
	ResponderID     string
	IncludeResolved bool
	Limit           int
	Offset          int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	// An explicit resolved filter implies resolved rows are wanted.
	if f.Status == StatusResolved {
		f.IncludeResolved = true
	}
	return f
}

// Stats summarises alerts detected since a point in time.
type Stats struct {
	Total                int     `json:"total_alerts"`
	Pending              int     `json:"pending_alerts"`
	Acknowledged         int     `json:"acknowledged_alerts"`
	Escalated            int     `json:"escalated_alerts"`
	Resolved             int     `json:"resolved_alerts"`
	HighPriority         int     `json:"high_priority_alerts"`
	Last24Hours          int     `json:"alerts_last_24h"`
	Unassigned           int     `json:"unassigned_alerts"`
	AvgResponseTimeHours float64 `json:"average_response_time_hours"`
	DaysBack             int     `json:"days_back"`
}
