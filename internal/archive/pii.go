package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// redaction swaps one kind of identifier for a placeholder. The replacement
// may reference capture groups so that lead-in words survive.
type redaction struct {
	kind        string
	re          *regexp.Regexp
	replacement string
}

// Rules run in order. Emails go first so handles inside them are not split,
// and SSNs before phones since the phone pattern is looser.
var redactions = []redaction{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{"url", regexp.MustCompile(`(?i)\bhttps?://\S+`), "[URL]"},
	{"handle", regexp.MustCompile(`(^|\s)@[A-Za-z0-9_.]{2,30}`), "${1}[HANDLE]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{"student_id", regexp.MustCompile(`(?i)\b(?:student|campus|school)\s+(?:id|number|no\.?)\s*(?:is\s+)?[:#]?\s*[A-Z0-9-]*\d[A-Z0-9-]*`), "[STUDENT_ID]"},
	{"phone", regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), "[PHONE]"},
	{"date", regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), "[DATE]"},
	{"address", regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][a-z]+\s+){1,3}(?:Street|St|Avenue|Ave|Road|Rd|Lane|Ln|Drive|Dr|Boulevard|Blvd|Court|Ct|Way|Place|Pl)\b\.?`), "[ADDRESS]"},
	{"name", regexp.MustCompile(`(\b(?:[Mm]y name is|[Ii] am called|[Cc]all me)\s+)[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`), "${1}[NAME]"},
}

// HashID returns the hex-encoded SHA-256 of a user identifier.
func HashID(id string) string {
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:])
}

// ScrubPII replaces contact details and identifying facts a student may
// share in a crisis conversation with bracketed placeholders.
func ScrubPII(text string) string {
	out, _ := redact(text)
	return out
}

// redact scrubs text and reports which kinds of identifier it removed.
func redact(text string) (string, []string) {
	var kinds []string
	for _, r := range redactions {
		if !r.re.MatchString(text) {
			continue
		}
		text = r.re.ReplaceAllString(text, r.replacement)
		kinds = append(kinds, r.kind)
	}
	return text, kinds
}

// ScrubAll returns a scrubbed copy of msgs.
func ScrubAll(msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = ScrubPII(m)
	}
	return out
}

// redactedKinds lists the identifier kinds found across texts, once each, in
// rule order.
func redactedKinds(texts ...string) []string {
	seen := make(map[string]bool)
	for _, t := range texts {
		_, kinds := redact(t)
		for _, k := range kinds {
			seen[k] = true
		}
	}
	var out []string
	for _, r := range redactions {
		if seen[r.kind] {
			out = append(out, r.kind)
		}
	}
	return out
}
