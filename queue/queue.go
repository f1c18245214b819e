package queue

import (
	"context"

	"github.com/creastat/relay"
)

// Queue is an ordered per-session list of pending messages.
type Queue interface {
	// Enqueue appends msg to the tail of the session's queue and refreshes its TTL.
	Enqueue(ctx context.Context, sessionID string, msg relay.Message) error

	// Peek returns all pending messages head to tail without removing them.
	Peek(ctx context.Context, sessionID string) (Batch, error)

	// Ack removes the batch from the head of its queue. Only the leading
	// entries that still match the batch are removed, so messages appended
	// after Peek, or already acked by another reader, are left alone.
	Ack(ctx context.Context, batch Batch) error

	// Drain atomically reads and removes all pending messages.
	Drain(ctx context.Context, sessionID string) ([]relay.Message, error)

	// Clear drops the session's queue.
	Clear(ctx context.Context, sessionID string) error

	// Sessions lists session ids that have pending messages.
	Sessions(ctx context.Context) ([]string, error)

	Close() error
}

// Batch is a snapshot of a session's queue returned by Peek.
type Batch struct {
	SessionID string
	Messages  []relay.Message

	// raw holds the stored encodings, head first, for prefix matching on ack.
	raw []string
	// origin is the queue that produced the batch.
	origin Queue
}

// Empty reports whether there is nothing to deliver.
func (b Batch) Empty() bool {
	return len(b.Messages) == 0 && len(b.raw) == 0
}

// IDs returns the message ids in order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		ids[i] = m.ID
	}
	return ids
}
