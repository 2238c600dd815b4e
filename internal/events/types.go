package events

import (
	"time"

	"github.com/wolfman30/triage-engine/internal/crisis"
)

// AlertLifecycleV1 is the outbound view of a crisis alert change. It omits
// the trigger and context messages.
type AlertLifecycleV1 struct {
	AlertID             string    `json:"alert_id"`
	OrgID               string    `json:"org_id"`
	Kind                string    `json:"kind"`
	Status              string    `json:"status"`
	CrisisType          string    `json:"crisis_type"`
	RiskLevel           string    `json:"risk_level"`
	ConfidenceScore     float64   `json:"confidence_score"`
	AssignedResponderID string    `json:"assigned_responder_id,omitempty"`
	DetectedAt          time.Time `json:"detected_at"`
	OccurredAt          time.Time `json:"occurred_at"`
}

func (e AlertLifecycleV1) EventType() string {
	return "crisis.alert." + e.Kind + ".v1"
}

// RoutingKey is "crisis.alert.<kind>.<risk_level>".
func (e AlertLifecycleV1) RoutingKey() string {
	risk := e.RiskLevel
	if risk == "" {
		risk = "unknown"
	}
	return "crisis.alert." + e.Kind + "." + risk
}

// NewAlertLifecycleV1 converts a lifecycle event into its payload.
func NewAlertLifecycleV1(e crisis.Event) AlertLifecycleV1 {
	at := e.At
	if at.IsZero() {
		at = e.Alert.UpdatedAt
	}
	return AlertLifecycleV1{
		AlertID:             e.Alert.ID,
		OrgID:               e.Alert.OrgID,
		Kind:                string(e.Kind),
		Status:              string(e.Alert.Status),
		CrisisType:          string(e.Alert.CrisisType),
		RiskLevel:           string(e.Alert.RiskLevel),
		ConfidenceScore:     e.Alert.ConfidenceScore,
		AssignedResponderID: e.Alert.AssignedResponderID,
		DetectedAt:          e.Alert.DetectedAt.UTC(),
		OccurredAt:          at.UTC(),
	}
}

// AlertAggregate is the aggregate key for an alert's events.
func AlertAggregate(alertID string) string {
	return "crisis_alert:" + alertID
}
