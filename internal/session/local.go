package session

import (
	"context"
	"sync"

	"github.com/wolfman30/triage-engine/internal/triage"
)

// LocalSequencer serialises work per key inside one process.
type LocalSequencer struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ triage.Sequencer = (*LocalSequencer)(nil)

func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{slots: map[string]*slot{}}
}

// Acquire blocks until key is free or ctx is done. Waiters are served in
// arrival order.
func (s *LocalSequencer) Acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		s.slots[key] = sl
	}
	sl.refs++
	s.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		s.unref(key, sl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			s.unref(key, sl)
		})
	}, nil
}

func (s *LocalSequencer) unref(key string, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, key)
	}
}

// size reports how many keys are tracked.
func (s *LocalSequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
