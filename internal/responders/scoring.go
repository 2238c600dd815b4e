package responders

import (
	"fmt"
	"strings"

	"github.com/wolfman30/triage-engine/internal/triage"
)

// Request describes the alert being assigned.
type Request struct {
	AlertID        string
	OrgID          string
	CrisisType     triage.CrisisType
	Level          triage.RiskLevel
	HasDistortions bool
}

// Scored is a candidate with the numbers that justified its rank.
type Scored struct {
	Candidate           Candidate
	Workload            int
	SpecializationScore float64
	RolePriority        int
	Score               float64
}

// Reason is the audit text stored with an assignment.
func (s Scored) Reason() string {
	return fmt.Sprintf("Lowest workload (%d) with specialization match (%.1f)", s.Workload, s.SpecializationScore)
}

var specializationKeywords = map[triage.CrisisType][]string{
	triage.CrisisSuicideIdeation:  {"suicide", "crisis", "emergency", "ideation"},
	triage.CrisisSelfHarm:         {"self-harm", "cutting", "trauma", "crisis"},
	triage.CrisisSevereDepression: {"depression", "mood", "cognitive", "therapy"},
	triage.CrisisAnxietyPanic:     {"anxiety", "panic", "phobia", "stress"},
	triage.CrisisSubstanceAbuse:   {"substance", "addiction", "recovery", "abuse"},
	triage.CrisisEatingDisorder:   {"eating", "body", "nutrition", "disorder"},
}

var generalCrisisKeywords = []string{"crisis", "emergency", "trauma"}

const (
	crisisWeight           = 2
	generalCrisisBonus     = 0.5
	cbtBonus               = 0.3
	specializationKeywordW = 1.0
)

// Workload weighs an active crisis twice as heavily as a scheduled session.
func Workload(activeCrises, activeSessions int) int {
	return activeCrises*crisisWeight + activeSessions
}

// SpecializationScore measures how well tags match the crisis type.
func SpecializationScore(tags []string, crisisType triage.CrisisType, hasDistortions bool) float64 {
	text := strings.ToLower(strings.Join(tags, " "))
	if text == "" {
		return 0
	}

	score := 0.0
	for _, kw := range specializationKeywords[crisisType] {
		if strings.Contains(text, kw) {
			score += specializationKeywordW
		}
	}
	for _, kw := range generalCrisisKeywords {
		if strings.Contains(text, kw) {
			score += generalCrisisBonus
			break
		}
	}
	if hasDistortions && strings.Contains(text, "cbt") {
		score += cbtBonus
	}
	return score
}

// RolePriority favors crisis specialists, then doctoral roles, for urgent alerts.
func RolePriority(role Role, level triage.RiskLevel) int {
	if !level.IsUrgent() {
		return 1
	}
	switch role {
	case RoleCrisisSpecialist:
		return 3
	case RolePsychologist, RolePsychiatrist:
		return 2
	}
	return 1
}

// Score computes the assignment score for one candidate. Lower is better.
func Score(c Candidate, req Request) Scored {
	workload := Workload(c.ActiveCrises, c.ActiveSessions)
	match := SpecializationScore(c.Responder.Specializations, req.CrisisType, req.HasDistortions)
	priority := RolePriority(c.Responder.Role, req.Level)
	return Scored{
		Candidate:           c,
		Workload:            workload,
		SpecializationScore: match,
		RolePriority:        priority,
		Score:               float64(workload) - match*float64(priority),
	}
}

// Select returns the lowest-scoring candidate. Ties keep the earliest candidate.
// noMatch reports that no candidate had any specialization overlap.
func Select(cands []Candidate, req Request) (best Scored, noMatch bool, err error) {
	if len(cands) == 0 {
		return Scored{}, false, ErrNoEligibleResponder
	}
	noMatch = true
	for i, c := range cands {
		s := Score(c, req)
		if s.SpecializationScore > 0 {
			noMatch = false
		}
		if i == 0 || s.Score < best.Score {
			best = s
		}
	}
	return best, noMatch, nil
}
