package crisis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/triage-engine/internal/responders"
)

// MemoryStore keeps alerts in process. It also serves as the alert side of
// responders.MemoryStore assignment.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	order  []string
}

var (
	_ Store                  = (*MemoryStore)(nil)
	_ responders.AlertBinder = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: map[string]*Alert{}}
}

func (s *MemoryStore) Create(_ context.Context, a Alert) (Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.ContextMessages == nil {
		a.ContextMessages = []string{}
	}
	a.ResponseActions = cloneActions(a.ResponseActions)
	a.UpdatedAt = a.DetectedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[a.ID]; exists {
		return Alert{}, fmt.Errorf("crisis: alert %s already exists", a.ID)
	}
	stored := a
	s.alerts[a.ID] = &stored
	s.order = append(s.order, a.ID)
	return copyAlert(&stored), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return Alert{}, ErrAlertNotFound
	}
	return copyAlert(a), nil
}

func (s *MemoryStore) ApplyTransition(_ context.Context, id string, t Transition) (Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return Alert{}, ErrAlertNotFound
	}
	if a.Status != t.From {
		return Alert{}, fmt.Errorf("crisis: alert %s is %s, expected %s: %w", id, a.Status, t.From, ErrStatusChanged)
	}

	at := t.At.UTC()
	a.Status = t.To
	switch t.To {
	case StatusAcknowledged:
		a.AcknowledgedAt = &at
	case StatusEscalated:
		a.EscalatedAt = &at
	case StatusResolved:
		a.ResolvedAt = &at
	}
	if a.AssignedResponderID == "" {
		a.AssignedResponderID = t.ResponderID
	}
	if t.Notes != "" {
		a.ResolutionNotes = t.Notes
	}
	for k, v := range t.Actions {
		a.ResponseActions[k] = v
	}
	a.UpdatedAt = at
	return copyAlert(a), nil
}

func (s *MemoryStore) AppendActions(_ context.Context, id string, actions Actions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	for k, v := range actions {
		a.ResponseActions[k] = v
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Alert, error) {
	f = f.normalized()
	s.mu.Lock()
	var matched []Alert
	for _, id := range s.order {
		a := s.alerts[id]
		if f.OrgID != "" && a.OrgID != f.OrgID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.RiskLevel != "" && a.RiskLevel != f.RiskLevel {
			continue
		}
		if f.ResponderID != "" && a.AssignedResponderID != f.ResponderID {
			continue
		}
		if !f.IncludeResolved && a.Status == StatusResolved {
			continue
		}
		matched = append(matched, copyAlert(a))
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		ri, rj := matched[i].RiskLevel.Rank(), matched[j].RiskLevel.Rank()
		if ri != rj {
			return ri > rj
		}
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})
	if f.Offset >= len(matched) {
		return nil, nil
	}
	end := f.Offset + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[f.Offset:end], nil
}

func (s *MemoryStore) Stats(_ context.Context, orgID string, since, now time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		st        Stats
		respTotal float64
		respCount int
	)
	dayAgo := now.Add(-24 * time.Hour)
	for _, a := range s.alerts {
		if a.DetectedAt.Before(since) || (orgID != "" && a.OrgID != orgID) {
			continue
		}
		st.Total++
		switch a.Status {
		case StatusPending:
			st.Pending++
		case StatusAcknowledged:
			st.Acknowledged++
		case StatusEscalated:
			st.Escalated++
		case StatusResolved:
			st.Resolved++
		}
		if a.RiskLevel.IsUrgent() {
			st.HighPriority++
		}
		if !a.DetectedAt.Before(dayAgo) {
			st.Last24Hours++
		}
		if a.AssignedResponderID == "" && a.Status != StatusResolved {
			st.Unassigned++
		}
		if a.AcknowledgedAt != nil {
			respTotal += a.AcknowledgedAt.Sub(a.DetectedAt).Hours()
			respCount++
		}
	}
	if respCount > 0 {
		st.AvgResponseTimeHours = round2(respTotal / float64(respCount))
	}
	return st, nil
}

// ActiveAlertCounts counts non-resolved alerts per responder.
func (s *MemoryStore) ActiveAlertCounts(_ context.Context, responderIDs []string) (map[string]int, error) {
	want := make(map[string]bool, len(responderIDs))
	for _, id := range responderIDs {
		want[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, a := range s.alerts {
		if a.AssignedResponderID != "" && want[a.AssignedResponderID] && a.Status.Active() {
			counts[a.AssignedResponderID]++
		}
	}
	return counts, nil
}

// BindResponder sets the responder on an unassigned alert.
func (s *MemoryStore) BindResponder(_ context.Context, alertID, responderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	if a.AssignedResponderID != "" {
		return fmt.Errorf("crisis: alert %s already assigned: %w", alertID, responders.ErrAssignmentConflict)
	}
	a.AssignedResponderID = responderID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func copyAlert(a *Alert) Alert {
	out := *a
	out.ResponseActions = cloneActions(a.ResponseActions)
	out.ContextMessages = append([]string{}, a.ContextMessages...)
	return out
}

func cloneActions(in Actions) Actions {
	out := make(Actions, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
