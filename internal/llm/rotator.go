package llm

import (
	"strings"
	"sync"
)

// ModelRotator hands out model identifiers round-robin. One instance is shared by
// every component that calls the text-generation service in a process.
type ModelRotator struct {
	mu     sync.Mutex
	models []string
	index  int
}

func NewModelRotator(models []string) *ModelRotator {
	cleaned := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return &ModelRotator{models: cleaned}
}

// Next returns the current model and advances the rotation.
// It returns "" when no models are configured so clients fall back to their default.
func (r *ModelRotator) Next() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.models) == 0 {
		return ""
	}
	model := r.models[r.index]
	r.index = (r.index + 1) % len(r.models)
	return model
}

// Current returns the model Next would return, without advancing.
func (r *ModelRotator) Current() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.models) == 0 {
		return ""
	}
	return r.models[r.index]
}

func (r *ModelRotator) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.models)
}
