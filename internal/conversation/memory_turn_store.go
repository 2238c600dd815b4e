package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/triage-engine/internal/triage"
)

type memorySession struct {
	key       triage.SessionKey
	turns     []triage.Turn
	summary   string
	createdAt time.Time
	endedAt   time.Time
}

// MemoryTurnStore keeps sessions in process memory for local runs and tests.
type MemoryTurnStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

var _ triage.TurnStore = (*MemoryTurnStore)(nil)

func NewMemoryTurnStore() *MemoryTurnStore {
	return &MemoryTurnStore{sessions: make(map[string]*memorySession), now: time.Now}
}

func (s *MemoryTurnStore) AppendTurn(_ context.Context, key triage.SessionKey, role, text string) (triage.Turn, error) {
	if strings.TrimSpace(key.SessionID) == "" {
		return triage.Turn{}, errors.New("conversation: session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess, ok := s.sessions[key.SessionID]
	if !ok {
		sess = &memorySession{key: key, createdAt: now}
		s.sessions[key.SessionID] = sess
	} else if sess.key.OrgID != key.OrgID || sess.key.UserID != key.UserID {
		return triage.Turn{}, fmt.Errorf("conversation: session %s: %w", key.SessionID, triage.ErrSessionOwnership)
	}
	turn := triage.Turn{
		ID:        uuid.NewString(),
		SessionID: key.SessionID,
		Role:      role,
		Text:      text,
		Ordinal:   len(sess.turns) + 1,
		CreatedAt: now,
	}
	sess.turns = append(sess.turns, turn)
	return turn, nil
}

func (s *MemoryTurnStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]triage.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	turns := sess.turns
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]triage.Turn(nil), turns...), nil
}

func (s *MemoryTurnStore) CountTurnsSince(_ context.Context, sessionID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	count := 0
	for _, t := range sess.turns {
		if !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryTurnStore) RecentSummaries(_ context.Context, userID, excludeSessionID string, limit int) ([]string, error) {
	if strings.TrimSpace(userID) == "" || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-summaryLookback)
	var matched []*memorySession
	for id, sess := range s.sessions {
		if id == excludeSessionID || sess.key.UserID != userID || sess.summary == "" || sess.createdAt.Before(cutoff) {
			continue
		}
		matched = append(matched, sess)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].createdAt.After(matched[j].createdAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	summaries := make([]string, 0, len(matched))
	for _, sess := range matched {
		summaries = append(summaries, sess.summary)
	}
	return summaries, nil
}

func (s *MemoryTurnStore) EndSession(_ context.Context, orgID, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.key.OrgID != orgID {
		return ErrSessionNotFound
	}
	sess.summary = strings.TrimSpace(summary)
	sess.endedAt = s.now().UTC()
	return nil
}
