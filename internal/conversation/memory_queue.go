package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMemoryQueueSize = 128
	defaultVisibility      = 2 * time.Minute
)

type memoryMessage struct {
	seq      uint64
	group    string
	msg      queueMessage
	deadline time.Time
}

// MemoryQueue is an in-process Queue with FIFO group semantics: while a
// message of a session is in flight, later messages of that session are held
// back until it is deleted or its visibility window lapses. Turns of one
// session therefore reach workers in the order they were sent.
type MemoryQueue struct {
	mu         sync.Mutex
	capacity   int
	visibility time.Duration
	now        func() time.Time

	seq      uint64
	pending  []memoryMessage // ordered by seq
	inflight map[string]memoryMessage
	busy     map[string]int // group -> in-flight count
	wake     chan struct{}
}

// NewMemoryQueue creates a MemoryQueue holding at most capacity waiting messages.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryQueueSize
	}
	return &MemoryQueue{
		capacity:   capacity,
		visibility: defaultVisibility,
		now:        time.Now,
		inflight:   make(map[string]memoryMessage),
		busy:       make(map[string]int),
		wake:       make(chan struct{}),
	}
}

// Send enqueues body under groupID, blocking while the queue is full.
// Messages without a group are never held back.
func (q *MemoryQueue) Send(ctx context.Context, body, groupID, _ string) error {
	for {
		q.mu.Lock()
		if len(q.pending) < q.capacity {
			q.seq++
			id := uuid.NewString()
			group := groupID
			if group == "" {
				group = id
			}
			q.pending = append(q.pending, memoryMessage{
				seq:   q.seq,
				group: group,
				msg:   queueMessage{ID: id, Body: body, ReceiptHandle: uuid.NewString()},
			})
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Receive returns up to maxMessages deliverable messages. It waits up to
// waitSeconds, or until ctx is done when waitSeconds is zero.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		q.mu.Lock()
		q.requeueExpired()
		msgs := q.take(maxMessages)
		wake := q.wake
		recheck := q.visibility
		q.mu.Unlock()

		if len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case <-wake:
		case <-time.After(recheck):
		}
	}
}

// Delete acknowledges a received message and releases its group.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.inflight[receiptHandle]
	if !ok {
		return nil
	}
	delete(q.inflight, receiptHandle)
	q.release(m.group)
	q.broadcast()
	return nil
}

// take claims messages in send order, skipping groups another receiver holds.
// Several messages of one group may share a batch; they stay in order.
func (q *MemoryQueue) take(max int) []queueMessage {
	var (
		out     []queueMessage
		kept    = q.pending[:0]
		claimed = make(map[string]bool)
		until   = q.now().Add(q.visibility)
	)
	for _, m := range q.pending {
		if len(out) == max || (q.busy[m.group] > 0 && !claimed[m.group]) {
			kept = append(kept, m)
			continue
		}
		claimed[m.group] = true
		q.busy[m.group]++
		m.deadline = until
		q.inflight[m.msg.ReceiptHandle] = m
		out = append(out, m.msg)
	}
	q.pending = kept
	if len(out) > 0 {
		q.broadcast()
	}
	return out
}

// requeueExpired returns lapsed in-flight messages to the head of their group.
func (q *MemoryQueue) requeueExpired() {
	now := q.now()
	requeued := false
	for handle, m := range q.inflight {
		if now.Before(m.deadline) {
			continue
		}
		delete(q.inflight, handle)
		q.release(m.group)
		m.msg.ReceiptHandle = uuid.NewString()
		q.pending = append(q.pending, m)
		requeued = true
	}
	if requeued {
		sort.Slice(q.pending, func(i, j int) bool { return q.pending[i].seq < q.pending[j].seq })
	}
}

func (q *MemoryQueue) release(group string) {
	if q.busy[group] <= 1 {
		delete(q.busy, group)
		return
	}
	q.busy[group]--
}

// broadcast wakes every waiting Send and Receive. Callers hold q.mu.
func (q *MemoryQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}
