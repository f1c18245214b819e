package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/relay"
)

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	failures  int
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) MarkFailed(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.failures++
}

func (f *fakeConn) set(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func TestNewPolicyRequiresSharedQueue(t *testing.T) {
	_, err := NewPolicy(relay.ModeSharedWithFallback, nil)
	assert.ErrorIs(t, err, relay.ErrInvalidConfig)

	p, err := NewPolicy(relay.ModeLocal, nil)
	require.NoError(t, err)
	assert.Equal(t, relay.ModeLocal, p.Mode())
}

func TestPolicyLocalMode(t *testing.T) {
	p, err := NewPolicy(relay.ModeLocal, NewMemoryQueue())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, "s", msg("hello")))
	batch, err := p.Peek(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, contents(batch.Messages))
	require.NoError(t, p.Ack(ctx, batch))

	got, err := p.Drain(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPolicySharedModeStoreUnavailable(t *testing.T) {
	_, client := newRedis(t)
	conn := &fakeConn{}
	p, err := NewPolicy(relay.ModeShared, nil, WithShared(NewRedisQueue(WithRedisClient(client)), conn))
	require.NoError(t, err)
	ctx := context.Background()

	err = p.Enqueue(ctx, "s", msg("lost"))
	assert.ErrorIs(t, err, relay.ErrStoreUnavailable)

	batch, err := p.Peek(ctx, "s")
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	require.NoError(t, p.Ack(ctx, batch))
}

func TestPolicySharedAcrossWorkers(t *testing.T) {
	_, client := newRedis(t)
	conn := &fakeConn{connected: true}
	worker := func() *Policy {
		p, err := NewPolicy(relay.ModeSharedWithFallback, nil, WithShared(NewRedisQueue(WithRedisClient(client)), conn))
		require.NoError(t, err)
		return p
	}
	a, b := worker(), worker()
	ctx := context.Background()

	require.NoError(t, a.Enqueue(ctx, "s", msg("from a")))
	batch, err := b.Peek(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"from a"}, contents(batch.Messages))
	require.NoError(t, b.Ack(ctx, batch))

	got, err := a.Drain(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, got)

	keys, err := a.SharedKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPolicyFallbackParksAndResyncs(t *testing.T) {
	m, client := newRedis(t)
	conn := &fakeConn{}
	shared := NewRedisQueue(WithRedisClient(client))
	p, err := NewPolicy(relay.ModeSharedWithFallback, NewMemoryQueue(), WithShared(shared, conn))
	require.NoError(t, err)
	ctx := context.Background()

	// Store down: works locally.
	require.NoError(t, p.Enqueue(ctx, "s", msg("parked 1")))
	require.NoError(t, p.Enqueue(ctx, "s", msg("parked 2")))
	assert.False(t, conn.IsConnected())
	assert.False(t, m.Exists("session_messages:s"))

	moved, err := p.Resync(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	conn.set(true)
	moved, err = p.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	assert.True(t, m.Exists("session_messages:s"))

	ids, err := p.local.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	got, err := shared.Drain(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"parked 1", "parked 2"}, contents(got))
}

func TestPolicyFallbackOnStoreError(t *testing.T) {
	m, client := newRedis(t)
	conn := &fakeConn{connected: true}
	p, err := NewPolicy(relay.ModeSharedWithFallback, NewMemoryQueue(), WithShared(NewRedisQueue(WithRedisClient(client)), conn))
	require.NoError(t, err)
	ctx := context.Background()

	m.SetError("ERR simulated failure")
	require.NoError(t, p.Enqueue(ctx, "s", msg("kept")))
	assert.False(t, conn.IsConnected())
	assert.Equal(t, 1, conn.failures)

	// Parked messages are served while the store is down.
	batch, err := p.Peek(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, contents(batch.Messages))
	require.NoError(t, p.Ack(ctx, batch))

	rest, err := p.Peek(ctx, "s")
	require.NoError(t, err)
	assert.True(t, rest.Empty())
}

func TestPolicyFallbackKeepsOrderAcrossOutage(t *testing.T) {
	_, client := newRedis(t)
	conn := &fakeConn{connected: true}
	shared := NewRedisQueue(WithRedisClient(client))
	p, err := NewPolicy(relay.ModeSharedWithFallback, NewMemoryQueue(), WithShared(shared, conn))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, "s", msg("first")))
	conn.set(false)
	require.NoError(t, p.Enqueue(ctx, "s", msg("second")))
	conn.set(true)

	batch, err := p.Peek(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, contents(batch.Messages))
	require.NoError(t, p.Ack(ctx, batch))

	rest, err := p.Peek(ctx, "s")
	require.NoError(t, err)
	assert.True(t, rest.Empty())

	// An enqueue right after recovery lands behind the parked messages.
	require.NoError(t, p.Enqueue(ctx, "s", msg("third")))
	conn.set(false)
	require.NoError(t, p.Enqueue(ctx, "s", msg("fourth")))
	conn.set(true)
	require.NoError(t, p.Enqueue(ctx, "s", msg("fifth")))

	got, err := p.Drain(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "fourth", "fifth"}, contents(got))

	ids, err := p.local.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPolicyConcurrentPeeksMoveParkedOnce(t *testing.T) {
	_, client := newRedis(t)
	conn := &fakeConn{}
	shared := NewRedisQueue(WithRedisClient(client))
	p, err := NewPolicy(relay.ModeSharedWithFallback, NewMemoryQueue(), WithShared(shared, conn))
	require.NoError(t, err)
	ctx := context.Background()

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("m%d", i)
		require.NoError(t, p.Enqueue(ctx, "s", msg(want[i])))
	}
	conn.set(true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Peek(ctx, "s")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := shared.Drain(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, want, contents(got))
}

// ctxQueue fails like a network backend does once its caller's context ends.
type ctxQueue struct {
	*MemoryQueue
}

func (q ctxQueue) Enqueue(ctx context.Context, sessionID string, m relay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.MemoryQueue.Enqueue(ctx, sessionID, m)
}

func (q ctxQueue) Peek(ctx context.Context, sessionID string) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{SessionID: sessionID}, err
	}
	return q.MemoryQueue.Peek(ctx, sessionID)
}

func TestPolicyCallerCancellationKeepsStoreConnected(t *testing.T) {
	conn := &fakeConn{connected: true}
	shared := ctxQueue{NewMemoryQueue()}
	p, err := NewPolicy(relay.ModeSharedWithFallback, NewMemoryQueue(), WithShared(shared, conn))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Peek(cancelled, "gone-tab")
	assert.ErrorIs(t, err, context.Canceled)
	err = p.Enqueue(cancelled, "gone-tab", msg("late"))
	assert.ErrorIs(t, err, context.Canceled)

	assert.True(t, conn.IsConnected())
	assert.Zero(t, conn.failures)

	// Other sessions keep using the shared store.
	ctx := context.Background()
	require.NoError(t, p.Enqueue(ctx, "other", msg("still shared")))
	parked, err := p.local.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, parked)

	batch, err := shared.Peek(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, []string{"still shared"}, contents(batch.Messages))
}
