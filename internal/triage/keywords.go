package triage

import "strings"

// crisisPhrase is a phrase that forces a crisis floor and the risk factor it records.
type crisisPhrase struct {
	phrase string
	factor string
}

// Factors carry a category prefix so the crisis classifier and severity override see them.
var crisisPhrases = []crisisPhrase{
	{phrase: "suicide", factor: "suicide"},
	{phrase: "suicidal", factor: "suicide: suicidal"},
	{phrase: "kill myself", factor: "suicide: kill myself"},
	{phrase: "end it all", factor: "suicide: end it all"},
	{phrase: "hurt myself", factor: "self-harm: hurt myself"},
	{phrase: "self harm", factor: "self-harm"},
	{phrase: "self-harm", factor: "self-harm"},
	{phrase: "can't go on", factor: "hopelessness: can't go on"},
	{phrase: "better off dead", factor: "suicide: better off dead"},
	{phrase: "no point living", factor: "hopelessness: no point living"},
	{phrase: "want to die", factor: "suicide: want to die"},
	{phrase: "ending my life", factor: "suicide: ending my life"},
}

const crisisFloorScore = 8

// normalizeText lowercases and folds typographic apostrophes so "can’t" matches "can't".
func normalizeText(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}

// MatchCrisisPhrases returns the risk factors for every crisis phrase found in text, in table order.
func MatchCrisisPhrases(text string) []string {
	lowered := normalizeText(text)
	var factors []string
	seen := map[string]bool{}
	for _, p := range crisisPhrases {
		if !strings.Contains(lowered, p.phrase) || seen[p.factor] {
			continue
		}
		seen[p.factor] = true
		factors = append(factors, p.factor)
	}
	return factors
}

// ApplyCrisisFloor raises the assessment when text contains an explicit crisis phrase.
// It only ever raises: a higher model score is kept.
func ApplyCrisisFloor(a Assessment, text string) (Assessment, bool) {
	matched := MatchCrisisPhrases(text)
	if len(matched) == 0 {
		return a, false
	}

	if a.RiskScore < crisisFloorScore {
		a.RiskScore = crisisFloorScore
	}
	a.ImmediateActionNeeded = true
	a.ConversationNeeds = NeedCrisis

	factors := append([]string(nil), a.RiskFactors...)
	for _, f := range matched {
		if !containsFold(factors, f) {
			factors = append(factors, f)
		}
	}
	a.RiskFactors = factors
	return a, true
}

func containsFold(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
