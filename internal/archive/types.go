package archive

import "time"

// AlertRecord is the snapshot written to S3 when an alert is resolved.
type AlertRecord struct {
	Version            string         `json:"version"`
	AlertID            string         `json:"alert_id"`
	OrgID              string         `json:"org_id"`
	UserHash           string         `json:"user_hash"`
	SessionID          string         `json:"session_id"`
	CrisisType         string         `json:"crisis_type"`
	RiskLevel          string         `json:"risk_level"`
	ConfidenceScore    float64        `json:"confidence_score"`
	FinalStatus        string         `json:"final_status"`
	ResponderID        string         `json:"responder_id,omitempty"`
	TriggerMessage     string         `json:"trigger_message"`
	ContextMessages    []string       `json:"context_messages"`
	DetectedIndicators any            `json:"detected_indicators"`
	ResponseActions    map[string]any `json:"response_actions"`
	ResolutionNotes    string         `json:"resolution_notes,omitempty"`
	Redacted           []string       `json:"redacted,omitempty"`
	DetectedAt         time.Time      `json:"detected_at"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	ArchivedAt         time.Time      `json:"archived_at"`
	ResponseMinutes    float64        `json:"response_minutes,omitempty"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	AlertID     string `json:"alert_id"`
	OrgID       string `json:"org_id"`
	S3Key       string `json:"s3_key"`
	CrisisType  string `json:"crisis_type"`
	RiskLevel   string `json:"risk_level"`
	ArchivedAt  string `json:"archived_at"`
	ResponderID string `json:"responder_id,omitempty"`
}
