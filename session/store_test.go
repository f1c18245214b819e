package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/relay"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, relay.ErrInvalidConfig)

	_, client := newRedis(t)
	s, err = NewStore(StoreTypeRedis, WithRedisClient(client), WithRedisTTL(time.Minute))
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)

	_, err = NewStore("etcd")
	assert.ErrorIs(t, err, relay.ErrInvalidStoreType)
}

func TestStores(t *testing.T) {
	_, client := newRedis(t)
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, 0),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.Put(ctx, &Info{ID: "b", CustomerName: "Bea"}))
			require.NoError(t, s.Put(ctx, &Info{ID: "a", CompanyName: "Acme"}))
			require.NoError(t, s.Put(ctx, &Info{ID: "a", CompanyName: "Acme GmbH"}))

			got, err = s.Get(ctx, "a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "Acme GmbH", got.CompanyName)

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)
		})
	}
}

func TestRedisStoreUsesSessionKeyWithTTL(t *testing.T) {
	m, client := newRedis(t)
	s := NewRedisStore(client, 0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Info{ID: "abc", CustomerDomain: "example.com"}))
	assert.True(t, m.Exists("session:abc"))
	assert.Equal(t, time.Hour, m.TTL("session:abc"))

	// A queue key must not show up as a session.
	m.RPush("session_messages:abc", "{}")
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, ids)

	m.FastForward(time.Hour + time.Second)
	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, got)
}
