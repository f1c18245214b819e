package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/creastat/relay"
)

type memoryEntry struct {
	messages  []relay.Message
	expiresAt time.Time
}

// MemoryQueue keeps queues in process memory. Only correct with a single worker.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	c := newConfig(opts)
	return &MemoryQueue{
		queues: make(map[string]*memoryEntry),
		ttl:    c.ttl,
		now:    c.now,
	}
}

// live returns the entry for id, dropping it if expired. Caller holds mu.
func (q *MemoryQueue) live(id string) *memoryEntry {
	e, ok := q.queues[id]
	if !ok {
		return nil
	}
	if !q.now().Before(e.expiresAt) {
		delete(q.queues, id)
		return nil
	}
	return e
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, sessionID string, msg relay.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.live(sessionID)
	if e == nil {
		e = &memoryEntry{}
		q.queues[sessionID] = e
	}
	e.messages = append(e.messages, msg)
	e.expiresAt = q.now().Add(q.ttl)
	return nil
}

// Peek implements Queue.
func (q *MemoryQueue) Peek(ctx context.Context, sessionID string) (Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := Batch{SessionID: sessionID, origin: q}
	if e := q.live(sessionID); e != nil {
		batch.Messages = append([]relay.Message(nil), e.messages...)
	}
	return batch, nil
}

// Ack implements Queue, matching on message ids.
func (q *MemoryQueue) Ack(ctx context.Context, batch Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.live(batch.SessionID)
	if e == nil {
		return nil
	}
	n := 0
	for n < len(batch.Messages) && n < len(e.messages) && e.messages[n].ID == batch.Messages[n].ID {
		n++
	}
	e.messages = e.messages[n:]
	if len(e.messages) == 0 {
		delete(q.queues, batch.SessionID)
	}
	return nil
}

// Drain implements Queue.
func (q *MemoryQueue) Drain(ctx context.Context, sessionID string) ([]relay.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.live(sessionID)
	if e == nil {
		return []relay.Message{}, nil
	}
	delete(q.queues, sessionID)
	return e.messages, nil
}

// Clear implements Queue.
func (q *MemoryQueue) Clear(ctx context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.queues, sessionID)
	return nil
}

// Sessions implements Queue.
func (q *MemoryQueue) Sessions(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.queues))
	for id := range q.queues {
		if q.live(id) != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Sweep drops expired queues and returns how many were removed.
func (q *MemoryQueue) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id := range q.queues {
		if q.live(id) == nil {
			removed++
		}
	}
	return removed
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queues = make(map[string]*memoryEntry)
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
