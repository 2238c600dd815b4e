package triage

import "strings"

const (
	patternWindow     = 3
	patternMinHistory = 2
	maxPatterns       = 2
	// a theme is recurring when it shows up in at least this many summaries
	patternMinHits = 2
)

type theme struct {
	name     string
	keywords []string
}

var patternThemes = []theme{
	{name: "work", keywords: []string{"job", "boss", "colleague", "workplace", "office", "meeting"}},
	{name: "relationship", keywords: []string{"partner", "boyfriend", "girlfriend", "spouse", "friend", "family"}},
	{name: "social", keywords: []string{"people", "social", "party", "gathering", "public", "crowd"}},
	{name: "health", keywords: []string{"sick", "tired", "pain", "doctor", "medical", "illness"}},
	{name: "money", keywords: []string{"financial", "money", "bills", "debt", "budget", "expensive"}},
	{name: "family", keywords: []string{"mom", "dad", "parent", "sibling", "child", "family"}},
	{name: "self", keywords: []string{"myself", "worthless", "failure", "stupid", "ugly", "inadequate"}},
}

// DetectPatterns scans the most recent session summaries (newest first) for recurring themes.
// Fewer than two summaries yields nil. At most two themes are returned, in vocabulary order.
func DetectPatterns(summaries []string) []string {
	window := make([]string, 0, patternWindow)
	for _, s := range summaries {
		if strings.TrimSpace(s) == "" {
			continue
		}
		window = append(window, strings.ToLower(s))
		if len(window) == patternWindow {
			break
		}
	}
	if len(window) < patternMinHistory {
		return nil
	}

	var found []string
	for _, t := range patternThemes {
		hits := 0
		for _, summary := range window {
			if containsAny(summary, t.keywords) {
				hits++
			}
		}
		if hits >= patternMinHits {
			found = append(found, t.name)
			if len(found) == maxPatterns {
				break
			}
		}
	}
	return found
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
