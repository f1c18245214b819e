package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/creastat/relay"
)

// Connectivity reports the shared store's health.
type Connectivity interface {
	IsConnected() bool
	MarkFailed(err error)
}

// Policy routes queue operations to the local or shared backend according
// to the relay.Mode chosen at startup.
//
// In shared-with-fallback mode messages enqueued while the shared store is
// down are parked locally and served from there until it is back. Once it is,
// a session's parked messages are appended to its shared list before that
// list is read, so FIFO order holds across the outage. Resync does the same
// for every session.
type Policy struct {
	mode   relay.Mode
	local  *MemoryQueue
	shared Queue
	conn   Connectivity
	logger *slog.Logger

	degraded atomic.Bool
	// moving serializes moves of parked messages to the shared store.
	moving sync.Mutex
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithShared attaches the shared queue and its connectivity signal.
func WithShared(q Queue, conn Connectivity) PolicyOption {
	return func(p *Policy) {
		p.shared = q
		p.conn = conn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PolicyOption {
	return func(p *Policy) { p.logger = l }
}

// NewPolicy builds a router for mode over the given local queue.
func NewPolicy(mode relay.Mode, local *MemoryQueue, opts ...PolicyOption) (*Policy, error) {
	if local == nil {
		local = NewMemoryQueue()
	}
	p := &Policy{
		mode:   mode,
		local:  local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if mode.UsesShared() && (p.shared == nil || p.conn == nil) {
		return nil, fmt.Errorf("%w: mode %q requires a shared queue", relay.ErrInvalidConfig, mode)
	}
	if !mode.UsesShared() {
		p.shared = nil
	}
	p.logger = p.logger.With(slog.String("component", "message_queue"))
	return p, nil
}

// Mode returns the storage mode.
func (p *Policy) Mode() relay.Mode {
	return p.mode
}

func (p *Policy) sharedAvailable() bool {
	if p.shared == nil || !p.conn.IsConnected() {
		return false
	}
	if p.degraded.CompareAndSwap(true, false) {
		p.logger.Info("store reachable again, using shared queue")
	}
	return true
}

// fallback reports whether the local queue may stand in for the shared one,
// logging the degradation once per outage.
func (p *Policy) fallback() bool {
	switch p.mode {
	case relay.ModeLocal:
		return true
	case relay.ModeSharedWithFallback:
		if p.degraded.CompareAndSwap(false, true) {
			p.logger.Warn("store unavailable, queueing in process memory; delivery across workers is not guaranteed")
		}
		return true
	default:
		return false
	}
}

// failed records a shared store error. Errors caused by the caller's own
// context ending say nothing about the store and leave it marked connected.
func (p *Policy) failed(ctx context.Context, op string, err error) {
	if relay.CallerGone(ctx, err) {
		p.logger.Debug(op+" abandoned by caller", slog.Any("error", err))
		return
	}
	p.conn.MarkFailed(err)
	p.logger.Warn(op+" failed", slog.Any("error", err))
}

// Enqueue implements Queue.
func (p *Policy) Enqueue(ctx context.Context, sessionID string, msg relay.Message) error {
	if p.sharedAvailable() && p.resyncSession(ctx, sessionID) == nil {
		err := p.shared.Enqueue(ctx, sessionID, msg)
		if err == nil {
			return nil
		}
		p.failed(ctx, "enqueue", err)
		if relay.CallerGone(ctx, err) {
			return fmt.Errorf("enqueue for session %s: %w", sessionID, err)
		}
	}
	if !p.fallback() {
		return fmt.Errorf("enqueue for session %s: %w", sessionID, relay.ErrStoreUnavailable)
	}
	return p.local.Enqueue(ctx, sessionID, msg)
}

// Peek implements Queue. With the shared store unreachable in shared mode
// the batch is empty.
func (p *Policy) Peek(ctx context.Context, sessionID string) (Batch, error) {
	if p.sharedAvailable() && p.resyncSession(ctx, sessionID) == nil {
		batch, err := p.shared.Peek(ctx, sessionID)
		if err == nil {
			return batch, nil
		}
		p.failed(ctx, "peek", err)
		if relay.CallerGone(ctx, err) {
			return Batch{SessionID: sessionID}, err
		}
	}
	if !p.fallback() {
		return Batch{SessionID: sessionID}, nil
	}
	return p.local.Peek(ctx, sessionID)
}

// Ack implements Queue. The batch is acked on the backend that produced it.
func (p *Policy) Ack(ctx context.Context, batch Batch) error {
	if batch.origin == nil {
		return nil
	}
	err := batch.origin.Ack(ctx, batch)
	if err != nil && batch.origin == p.shared {
		p.failed(ctx, "ack", err)
	}
	return err
}

// Drain implements Queue.
func (p *Policy) Drain(ctx context.Context, sessionID string) ([]relay.Message, error) {
	if p.sharedAvailable() && p.resyncSession(ctx, sessionID) == nil {
		msgs, err := p.shared.Drain(ctx, sessionID)
		if err == nil {
			return msgs, nil
		}
		p.failed(ctx, "drain", err)
	}
	return p.local.Drain(ctx, sessionID)
}

// Clear implements Queue.
func (p *Policy) Clear(ctx context.Context, sessionID string) error {
	_ = p.local.Clear(ctx, sessionID)
	if p.sharedAvailable() {
		if err := p.shared.Clear(ctx, sessionID); err != nil {
			p.failed(ctx, "clear", err)
			return err
		}
	} else if p.mode == relay.ModeShared {
		return fmt.Errorf("clear session %s: %w", sessionID, relay.ErrStoreUnavailable)
	}
	return nil
}

// Sessions implements Queue.
func (p *Policy) Sessions(ctx context.Context) ([]string, error) {
	ids, _ := p.local.Sessions(ctx)
	if !p.sharedAvailable() {
		return ids, nil
	}
	shared, err := p.shared.Sessions(ctx)
	if err != nil {
		p.failed(ctx, "list queues", err)
		return ids, nil
	}
	seen := make(map[string]struct{}, len(ids)+len(shared))
	merged := make([]string, 0, len(ids)+len(shared))
	for _, id := range append(ids, shared...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	sort.Strings(merged)
	return merged, nil
}

// SharedKeys returns the shared store's message list keys, or nil when the
// shared queue is not in use or unreachable.
func (p *Policy) SharedKeys(ctx context.Context) ([]string, error) {
	rq, ok := p.shared.(*RedisQueue)
	if !ok || !p.sharedAvailable() {
		return nil, nil
	}
	keys, err := rq.Keys(ctx)
	if err != nil {
		p.failed(ctx, "scan keys", err)
		return nil, err
	}
	return keys, nil
}

// Resync moves messages parked locally during an outage to the shared store
// and returns how many were moved. It is a no-op unless the mode is
// shared-with-fallback and the store is reachable.
func (p *Policy) Resync(ctx context.Context) (int, error) {
	if p.mode != relay.ModeSharedWithFallback || !p.sharedAvailable() {
		return 0, nil
	}
	ids, _ := p.local.Sessions(ctx)
	moved := 0
	for _, id := range ids {
		n, err := p.moveParked(ctx, id)
		moved += n
		if err != nil {
			p.failed(ctx, "resync", err)
			return moved, fmt.Errorf("resync session %s: %w", id, err)
		}
	}
	if moved > 0 {
		p.logger.Info("moved parked messages to shared queue", slog.Int("count", moved))
	}
	return moved, nil
}

// resyncSession appends sessionID's parked messages to its shared list. A
// non-nil error means some are still parked and the shared list must not be
// read ahead of them.
func (p *Policy) resyncSession(ctx context.Context, sessionID string) error {
	if p.mode != relay.ModeSharedWithFallback {
		return nil
	}
	n, err := p.moveParked(ctx, sessionID)
	if n > 0 {
		p.logger.Info("moved parked messages to shared queue",
			slog.String("session_id", sessionID), slog.Int("count", n))
	}
	if err != nil {
		p.failed(ctx, "resync", err)
	}
	return err
}

func (p *Policy) moveParked(ctx context.Context, sessionID string) (int, error) {
	if parked, _ := p.local.Peek(ctx, sessionID); parked.Empty() {
		return 0, nil
	}
	p.moving.Lock()
	defer p.moving.Unlock()

	batch, _ := p.local.Peek(ctx, sessionID)
	n := 0
	var err error
	for _, msg := range batch.Messages {
		if err = p.shared.Enqueue(ctx, sessionID, msg); err != nil {
			break
		}
		n++
	}
	if n > 0 {
		done := batch
		done.Messages = batch.Messages[:n]
		_ = p.local.Ack(ctx, done)
	}
	return n, err
}

// Sweep drops expired local queues.
func (p *Policy) Sweep() int {
	return p.local.Sweep()
}

// Close implements Queue.
func (p *Policy) Close() error {
	return p.local.Close()
}

var _ Queue = (*Policy)(nil)
