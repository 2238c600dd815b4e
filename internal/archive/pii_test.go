package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashID(t *testing.T) {
	h1 := HashID("student-1")
	h2 := HashID("student-1")
	h3 := HashID("student-2")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "contact me at john@example.com please", "contact me at [EMAIL] please"},
		{"phone", "call me at (330) 333-2654", "call me at [PHONE]"},
		{"phone with plus", "my number is +15005550002", "my number is [PHONE]"},
		{"both", "email: a@b.com phone: 330-333-2654", "email: [EMAIL] phone: [PHONE]"},
		{"ssn", "my ssn is 123-45-6789", "my ssn is [SSN]"},
		{"student id", "my student id: A1234567 if that helps", "my [STUDENT_ID] if that helps"},
		{"student number spoken", "Student number is 4455667", "[STUDENT_ID]"},
		{"date of birth", "born 4/12/2009 and I hate it", "born [DATE] and I hate it"},
		{"address", "I'm at 42 Elm Street right now", "I'm at [ADDRESS] right now"},
		{"handle", "dm me @sad_kid99 tonight", "dm me [HANDLE] tonight"},
		{"url", "read my note https://pastebin.com/abc123", "read my note [URL]"},
		{"name", "my name is Jordan Lee and I can't go on", "my name is [NAME] and I can't go on"},
		{"lowercase words kept", "call me later, I'm fine", "call me later, I'm fine"},
		{"no pii", "I feel like nothing matters", "I feel like nothing matters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}

func TestScrubAll(t *testing.T) {
	in := []string{"a@b.com", "fine"}
	out := ScrubAll(in)
	assert.Equal(t, []string{"[EMAIL]", "fine"}, out)
	assert.Equal(t, "a@b.com", in[0])
}

func TestRedactedKinds(t *testing.T) {
	kinds := redactedKinds(
		"I live at 9 Oak Ave",
		"text 330-333-2654",
		"or 330-333-2655",
		"nothing here",
	)
	assert.Equal(t, []string{"phone", "address"}, kinds)
	assert.Empty(t, redactedKinds("I feel alone"))
}
