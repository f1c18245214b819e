package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/relay"
	"github.com/creastat/relay/events"
)

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	failures  []error
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) MarkFailed(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.failures = append(f.failures, err)
}

type fakeArchive struct {
	saved map[string]Info
	err   error
}

func (a *fakeArchive) SaveSession(_ context.Context, info Info) error {
	if a.err != nil {
		return a.err
	}
	if a.saved == nil {
		a.saved = make(map[string]Info)
	}
	a.saved[info.ID] = info
	return nil
}

func (a *fakeArchive) GetSession(_ context.Context, id string) (*Info, error) {
	if info, ok := a.saved[id]; ok {
		return &info, nil
	}
	return nil, nil
}

type recordingPublisher struct {
	envelopes []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.envelopes = append(p.envelopes, env)
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

func TestNewRegistryRequiresSharedStore(t *testing.T) {
	_, err := NewRegistry(relay.ModeShared)
	assert.ErrorIs(t, err, relay.ErrInvalidConfig)

	r, err := NewRegistry(relay.ModeLocal)
	require.NoError(t, err)
	assert.Equal(t, relay.ModeLocal, r.Mode())
}

func TestRegistryLocalOnly(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	r, err := NewRegistry(relay.ModeLocal, WithPublisher(pub))
	require.NoError(t, err)

	require.NoError(t, r.Register(ctx, Info{ID: " abc ", CustomerName: "Ada"}))

	got, err := r.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.CustomerName)

	_, err = r.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, relay.ErrNotFound)

	err = r.Register(ctx, Info{ID: "  "})
	assert.ErrorIs(t, err, relay.ErrMissingRequiredField)

	require.Len(t, pub.envelopes, 1)
	assert.Equal(t, events.SessionRegistered, pub.envelopes[0].Meta.Type)
}

func TestRegistryReRegistrationKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r, err := NewRegistry(relay.ModeLocal, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, r.Register(ctx, Info{ID: "abc"}))
	now = now.Add(time.Minute)
	require.NoError(t, r.Register(ctx, Info{ID: "abc", CompanyName: "Acme"}))

	got, err := r.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), got.CreatedAt)
	assert.Equal(t, now, got.UpdatedAt)
	assert.Equal(t, "Acme", got.CompanyName)
}

func TestRegistrySharedAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	conn := &fakeConn{connected: true}

	workerA, err := NewRegistry(relay.ModeSharedWithFallback, WithShared(NewRedisStore(client, 0), conn))
	require.NoError(t, err)
	workerB, err := NewRegistry(relay.ModeSharedWithFallback, WithShared(NewRedisStore(client, 0), conn))
	require.NoError(t, err)

	require.NoError(t, workerA.Register(ctx, Info{ID: "abc", CompanyName: "Acme"}))
	require.NoError(t, workerB.Register(ctx, Info{ID: "def"}))

	assert.Empty(t, workerB.Snapshot()["abc"].ID)
	got, err := workerB.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.CompanyName)
	// The shared hit is now cached locally.
	assert.Equal(t, "abc", workerB.Snapshot()["abc"].ID)

	ids, err := workerA.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "def"}, ids)
}

func TestRegistryStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	conn := &fakeConn{connected: false}

	r, err := NewRegistry(relay.ModeSharedWithFallback, WithShared(NewRedisStore(client, 0), conn))
	require.NoError(t, err)

	require.NoError(t, r.Register(ctx, Info{ID: "abc"}))
	got, err := r.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ID)

	ids, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, ids)
	assert.False(t, conn.IsConnected())

	n, err := client.Exists(ctx, "session:abc").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistrySharedFailureMarksStore(t *testing.T) {
	ctx := context.Background()
	m, client := newRedis(t)
	conn := &fakeConn{connected: true}
	r, err := NewRegistry(relay.ModeShared, WithShared(NewRedisStore(client, 0), conn))
	require.NoError(t, err)

	m.SetError("ERR simulated failure")
	require.NoError(t, r.Register(ctx, Info{ID: "abc"}))
	assert.False(t, conn.IsConnected())
	assert.Len(t, conn.failures, 1)
}

// ctxStore fails like a network store does once its caller's context ends.
type ctxStore struct {
	*MemoryStore
}

func (s ctxStore) Put(ctx context.Context, info *Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, info)
}

func (s ctxStore) Get(ctx context.Context, id string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, id)
}

func (s ctxStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.List(ctx)
}

func TestRegistryCallerCancellationKeepsStoreConnected(t *testing.T) {
	conn := &fakeConn{connected: true}
	shared := ctxStore{NewMemoryStore()}
	r, err := NewRegistry(relay.ModeShared, WithShared(shared, conn))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, r.Register(cancelled, Info{ID: "gone"}))
	_, err = r.Lookup(cancelled, "missing")
	assert.ErrorIs(t, err, relay.ErrNotFound)
	_, err = r.List(cancelled)
	require.NoError(t, err)

	assert.True(t, conn.IsConnected())
	assert.Empty(t, conn.failures)

	require.NoError(t, r.Register(context.Background(), Info{ID: "other"}))
	info, err := shared.Get(context.Background(), "other")
	require.NoError(t, err)
	require.NotNil(t, info)
}

func TestRegistryArchive(t *testing.T) {
	ctx := context.Background()
	archive := &fakeArchive{}
	r, err := NewRegistry(relay.ModeLocal, WithArchive(archive))
	require.NoError(t, err)

	require.NoError(t, r.Register(ctx, Info{ID: "abc", CustomerEmail: "a@example.com"}))
	assert.Equal(t, "a@example.com", archive.saved["abc"].CustomerEmail)

	archive.saved["old"] = Info{ID: "old", CompanyName: "Legacy"}
	got, err := r.Lookup(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "Legacy", got.CompanyName)

	archive.err = errors.New("archive down")
	assert.NoError(t, r.Register(ctx, Info{ID: "xyz"}))
}
