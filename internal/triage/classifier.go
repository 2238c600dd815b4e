package triage

import "strings"

// Classification is the crisis type and level derived from an assessment.
type Classification struct {
	Type       CrisisType `json:"crisis_type"`
	Level      RiskLevel  `json:"risk_level"`
	BaseLevel  RiskLevel  `json:"base_level"`
	TypeRule   string     `json:"type_rule"`
	Overrides  []string   `json:"overrides,omitempty"`
	Confidence float64    `json:"confidence_score"`
}

type crisisTypeRule struct {
	keywords []string
	crisis   CrisisType
}

// crisisTypeRules is checked in order against the joined risk factors and concerns; first match wins.
var crisisTypeRules = []crisisTypeRule{
	{crisis: CrisisSuicideIdeation, keywords: []string{"suicide", "kill", "death", "die", "end it all"}},
	{crisis: CrisisSelfHarm, keywords: []string{"cut", "hurt myself", "self-harm", "harm myself"}},
	{crisis: CrisisAnxietyPanic, keywords: []string{"panic", "anxiety attack", "can't breathe"}},
	{crisis: CrisisSubstanceAbuse, keywords: []string{"drugs", "alcohol", "substance", "drinking"}},
	{crisis: CrisisEatingDisorder, keywords: []string{"eating", "food", "weight", "starving"}},
}

var severeKeywords = []string{"suicide", "kill", "death", "hurt myself", "end it all"}

// ClassifyType returns the crisis type and the keyword that selected it ("" for the default).
func ClassifyType(riskFactors, concerns []string) (CrisisType, string) {
	text := joinLower(riskFactors, concerns)
	for _, rule := range crisisTypeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.crisis, kw
			}
		}
	}
	return CrisisSevereDepression, ""
}

// BaseRiskLevel maps a 0-10 risk score onto a level.
func BaseRiskLevel(score int) RiskLevel {
	switch {
	case score >= 9:
		return RiskCritical
	case score >= 7:
		return RiskHigh
	case score >= 4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ClassifyLevel applies the escalation overrides to the base level. Overrides only raise.
func ClassifyLevel(score int, immediate bool, riskFactors []string) (RiskLevel, []string) {
	level := BaseRiskLevel(score)
	var applied []string

	if immediate {
		switch level {
		case RiskLow:
			level = RiskMedium
			applied = append(applied, "immediate_action")
		case RiskMedium:
			level = RiskHigh
			applied = append(applied, "immediate_action")
		}
	}

	if !level.AtLeast(RiskHigh) && containsAny(joinLower(riskFactors), severeKeywords) {
		level = RiskHigh
		applied = append(applied, "severe_keyword")
	}
	return level, applied
}

// Classify combines type and level classification for a crisis-routed assessment.
func Classify(a Assessment) Classification {
	crisisType, rule := ClassifyType(a.RiskFactors, a.Concerns)
	level, overrides := ClassifyLevel(a.RiskScore, a.ImmediateActionNeeded, a.RiskFactors)
	confidence := float64(a.RiskScore)
	if confidence > 10 {
		confidence = 10
	}
	return Classification{
		Type:       crisisType,
		Level:      level,
		BaseLevel:  BaseRiskLevel(a.RiskScore),
		TypeRule:   rule,
		Overrides:  overrides,
		Confidence: confidence,
	}
}

func joinLower(lists ...[]string) string {
	var parts []string
	for _, l := range lists {
		parts = append(parts, l...)
	}
	return normalizeText(strings.Join(parts, " "))
}
