package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Assessment is the structured risk and emotion reading for one turn.
type Assessment struct {
	EmotionalState        string           `json:"emotional_state"`
	UrgencyLevel          int              `json:"urgency_level"`
	RiskScore             int              `json:"risk_score"`
	RiskFactors           []string         `json:"risk_factors"`
	CognitiveDistortions  []string         `json:"cognitive_distortions"`
	Concerns              []string         `json:"concerns,omitempty"`
	ConversationNeeds     ConversationNeed `json:"conversation_needs"`
	ImmediateActionNeeded bool             `json:"immediate_action_needed"`

	// Defaulted is set when the values came from DefaultAssessment rather than the model.
	Defaulted bool `json:"defaulted"`
}

// DefaultAssessment is the low-severity reading used whenever the model output is unusable.
func DefaultAssessment() Assessment {
	return Assessment{
		EmotionalState:       "neutral",
		UrgencyLevel:         3,
		RiskScore:            0,
		RiskFactors:          []string{},
		CognitiveDistortions: []string{},
		Concerns:             []string{},
		ConversationNeeds:    NeedSupport,
		Defaulted:            true,
	}
}

// rawAssessment mirrors the model contract. Pointer fields distinguish missing keys from zero values.
type rawAssessment struct {
	EmotionalState        *string      `json:"emotional_state"`
	UrgencyLevel          *json.Number `json:"urgency_level"`
	RiskScore             *json.Number `json:"risk_score"`
	RiskFactors           *[]string    `json:"risk_factors"`
	CognitiveDistortions  *[]string    `json:"cognitive_distortions"`
	Concerns              []string     `json:"concerns"`
	ConversationNeeds     *string      `json:"conversation_needs"`
	ImmediateActionNeeded *bool        `json:"immediate_action_needed"`
}

// ParseAssessment extracts the first well-formed JSON object from text and validates it.
// Errors wrap ErrAssessmentParse.
func ParseAssessment(text string) (Assessment, error) {
	obj, ok := extractJSONObject(text)
	if !ok {
		return Assessment{}, fmt.Errorf("%w: no json object found", ErrAssessmentParse)
	}

	var raw rawAssessment
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrAssessmentParse, err)
	}
	return raw.validate()
}

func (r rawAssessment) validate() (Assessment, error) {
	switch {
	case r.EmotionalState == nil:
		return Assessment{}, missingField("emotional_state")
	case r.UrgencyLevel == nil:
		return Assessment{}, missingField("urgency_level")
	case r.RiskScore == nil:
		return Assessment{}, missingField("risk_score")
	case r.RiskFactors == nil:
		return Assessment{}, missingField("risk_factors")
	case r.CognitiveDistortions == nil:
		return Assessment{}, missingField("cognitive_distortions")
	case r.ConversationNeeds == nil:
		return Assessment{}, missingField("conversation_needs")
	case r.ImmediateActionNeeded == nil:
		return Assessment{}, missingField("immediate_action_needed")
	}

	urgency, err := boundedInt(*r.UrgencyLevel, "urgency_level", 1, 10)
	if err != nil {
		return Assessment{}, err
	}
	risk, err := boundedInt(*r.RiskScore, "risk_score", 0, 10)
	if err != nil {
		return Assessment{}, err
	}
	needs := ConversationNeed(strings.ToLower(strings.TrimSpace(*r.ConversationNeeds)))
	if !needs.Valid() {
		return Assessment{}, fmt.Errorf("%w: conversation_needs %q not recognised", ErrAssessmentParse, *r.ConversationNeeds)
	}

	state := strings.TrimSpace(*r.EmotionalState)
	if state == "" {
		state = "neutral"
	}

	return Assessment{
		EmotionalState:        state,
		UrgencyLevel:          urgency,
		RiskScore:             risk,
		RiskFactors:           cleanList(*r.RiskFactors),
		CognitiveDistortions:  cleanList(*r.CognitiveDistortions),
		Concerns:              cleanList(r.Concerns),
		ConversationNeeds:     needs,
		ImmediateActionNeeded: *r.ImmediateActionNeeded,
	}, nil
}

func missingField(name string) error {
	return fmt.Errorf("%w: missing %s", ErrAssessmentParse, name)
}

// boundedInt accepts integral numbers (7 or 7.0) within [lo, hi].
func boundedInt(n json.Number, field string, lo, hi int) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrAssessmentParse, field)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrAssessmentParse, field, f)
	}
	v := int(f)
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %s %d outside [%d,%d]", ErrAssessmentParse, field, v, lo, hi)
	}
	return v, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// extractJSONObject returns the first complete JSON object embedded in text.
// Models often wrap output in prose or code fences, so every '{' is tried as a start.
func extractJSONObject(text string) ([]byte, bool) {
	data := []byte(text)
	for i := 0; i < len(data); i++ {
		if data[i] != '{' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(data[i:]))
		var obj json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		if len(obj) > 0 && obj[0] == '{' {
			return obj, true
		}
	}
	return nil, false
}
