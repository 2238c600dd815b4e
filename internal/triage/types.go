package triage

import (
	"fmt"
	"strings"
)

// CrisisType categorises the nature of a detected crisis.
type CrisisType string

const (
	CrisisSuicideIdeation  CrisisType = "suicide_ideation"
	CrisisSelfHarm         CrisisType = "self_harm"
	CrisisSevereDepression CrisisType = "severe_depression"
	CrisisAnxietyPanic     CrisisType = "anxiety_panic"
	CrisisSubstanceAbuse   CrisisType = "substance_abuse"
	CrisisEatingDisorder   CrisisType = "eating_disorder"
)

// CrisisTypes lists every crisis type in classification priority order.
var CrisisTypes = []CrisisType{
	CrisisSuicideIdeation,
	CrisisSelfHarm,
	CrisisAnxietyPanic,
	CrisisSubstanceAbuse,
	CrisisEatingDisorder,
	CrisisSevereDepression,
}

func (c CrisisType) Valid() bool {
	for _, t := range CrisisTypes {
		if c == t {
			return true
		}
	}
	return false
}

// RiskLevel is the ordered severity of a crisis alert.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders levels: low=1 < medium=2 < high=3 < critical=4. Unknown levels rank 0.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// IsUrgent reports whether the level is HIGH or CRITICAL.
func (l RiskLevel) IsUrgent() bool {
	return l.AtLeast(RiskHigh)
}

// ParseRiskLevel accepts any casing of low/medium/high/critical.
func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if level.Rank() == 0 {
		return "", fmt.Errorf("triage: unknown risk level %q", s)
	}
	return level, nil
}

// ConversationNeed is the kind of reply the user appears to need.
type ConversationNeed string

const (
	NeedQuestion   ConversationNeed = "question"
	NeedSupport    ConversationNeed = "support"
	NeedAdvice     ConversationNeed = "advice"
	NeedValidation ConversationNeed = "validation"
	NeedCBT        ConversationNeed = "cbt"
	NeedCrisis     ConversationNeed = "crisis"
)

func (n ConversationNeed) Valid() bool {
	switch n {
	case NeedQuestion, NeedSupport, NeedAdvice, NeedValidation, NeedCBT, NeedCrisis:
		return true
	}
	return false
}

// Depth is the coarse phase of a conversation.
type Depth string

const (
	DepthShallow  Depth = "shallow"
	DepthModerate Depth = "moderate"
	DepthDeep     Depth = "deep"
)

// Rank orders depths: shallow < moderate < deep.
func (d Depth) Rank() int {
	switch d {
	case DepthShallow:
		return 1
	case DepthModerate:
		return 2
	case DepthDeep:
		return 3
	}
	return 0
}

// Route is the next action chosen for a turn.
type Route string

const (
	RouteCrisis  Route = "crisis"
	RouteCBT     Route = "cbt"
	RouteRespond Route = "respond"
)

// InterventionType is reported to the caller alongside the reply.
type InterventionType string

const (
	InterventionCrisis     InterventionType = "crisis_escalation"
	InterventionCBT        InterventionType = "cbt_therapy"
	InterventionSupportive InterventionType = "supportive_conversation"
)

// Intervention maps a route to the reported intervention type.
func (r Route) Intervention() InterventionType {
	switch r {
	case RouteCrisis:
		return InterventionCrisis
	case RouteCBT:
		return InterventionCBT
	default:
		return InterventionSupportive
	}
}
