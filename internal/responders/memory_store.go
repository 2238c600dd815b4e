package responders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertBinder is the alert side of in-memory assignment: it reports active
// alert counts and records the binding.
type AlertBinder interface {
	ActiveAlertCounts(ctx context.Context, responderIDs []string) (map[string]int, error)
	BindResponder(ctx context.Context, alertID, responderID string) error
}

// MemoryStore holds responders in process. A single mutex spans the
// read-score-write of every assignment.
type MemoryStore struct {
	mu         sync.Mutex
	responders []Responder
	sessions   []Session
	binder     AlertBinder
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(binder AlertBinder) *MemoryStore {
	return &MemoryStore{binder: binder, now: time.Now}
}

func (s *MemoryStore) Assign(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cands []Candidate
	for _, r := range s.responders {
		if r.OrgID == req.OrgID && r.Status.Assignable() {
			cands = append(cands, Candidate{Responder: r})
		}
	}
	if len(cands) == 0 {
		return Result{Outcome: OutcomeUnassigned, Attempts: 1}, nil
	}
	if err := s.fillWorkload(ctx, cands); err != nil {
		return Result{Attempts: 1}, err
	}

	best, noMatch, err := Select(cands, req)
	if err != nil {
		return Result{Attempts: 1}, err
	}
	if s.binder != nil {
		if err := s.binder.BindResponder(ctx, req.AlertID, best.Candidate.Responder.ID); err != nil {
			return Result{Attempts: 1}, fmt.Errorf("responders: bind alert: %w", err)
		}
	}
	return Result{
		Outcome:               OutcomeAssigned,
		Assignment:            newAssignment(uuid.NewString(), req.AlertID, best, s.now().UTC()),
		NoSpecializationMatch: noMatch,
		Candidates:            len(cands),
		Attempts:              1,
	}, nil
}

// fillWorkload requires s.mu.
func (s *MemoryStore) fillWorkload(ctx context.Context, cands []Candidate) error {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Responder.ID
	}
	crises := map[string]int{}
	if s.binder != nil {
		counts, err := s.binder.ActiveAlertCounts(ctx, ids)
		if err != nil {
			return fmt.Errorf("responders: count active alerts: %w", err)
		}
		crises = counts
	}
	for i := range cands {
		id := cands[i].Responder.ID
		cands[i].ActiveCrises = crises[id]
		for _, sess := range s.sessions {
			if sess.ResponderID == id && sess.Status.Active() {
				cands[i].ActiveSessions++
			}
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Responder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responders {
		if r.ID == id {
			return r, nil
		}
	}
	return Responder{}, ErrResponderNotFound
}

func (s *MemoryStore) Create(_ context.Context, r Responder) (Responder, error) {
	if strings.TrimSpace(r.OrgID) == "" || strings.TrimSpace(r.Name) == "" {
		return Responder{}, errors.New("responders: org id and name are required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Role == "" {
		r.Role = RoleCounselor
	}
	r.CreatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders = append(s.responders, r)
	return r, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) (Responder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.responders {
		if s.responders[i].ID == id {
			s.responders[i].Status = status
			return s.responders[i], nil
		}
	}
	return Responder{}, ErrResponderNotFound
}

func (s *MemoryStore) Availability(ctx context.Context, orgID string) (Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cands []Candidate
	for _, r := range s.responders {
		if r.OrgID == orgID {
			cands = append(cands, Candidate{Responder: r})
		}
	}
	if len(cands) > 0 {
		if err := s.fillWorkload(ctx, cands); err != nil {
			return Availability{}, err
		}
	}
	return buildAvailability(cands), nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = SessionScheduled
	}
	sess.CreatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return sess, nil
}
