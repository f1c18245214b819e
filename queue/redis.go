package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/relay"
)

const (
	// Redis key prefix for message lists
	queueKeyPrefix = "session_messages:"
	scanCount      = 200
)

// ackScript removes the leading entries of KEYS[1] that equal ARGV in order.
// It stops at the first mismatch, so entries appended or acked concurrently
// are never removed by mistake.
var ackScript = redis.NewScript(`
local n = #ARGV
if n == 0 then return 0 end
local head = redis.call('LRANGE', KEYS[1], 0, n - 1)
local matched = 0
for i = 1, #head do
  if head[i] ~= ARGV[i] then break end
  matched = i
end
if matched > 0 then
  redis.call('LTRIM', KEYS[1], matched, -1)
end
return matched
`)

// RedisQueue implements Queue with one Redis list per session.
// Messages are RPUSHed and read with LRANGE 0 -1, so reads are FIFO.
type RedisQueue struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisQueue creates a Redis-backed queue. Returns nil without WithRedisClient.
func NewRedisQueue(opts ...Option) *RedisQueue {
	c := newConfig(opts)
	if c.redisClient == nil {
		return nil
	}
	return &RedisQueue{client: c.redisClient, ttl: c.ttl}
}

// Enqueue implements Queue. Every append resets the list's TTL.
func (q *RedisQueue) Enqueue(ctx context.Context, sessionID string, msg relay.Message) error {
	val, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := q.key(sessionID)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, q.ttl)
		return nil
	})
	return err
}

// Peek implements Queue. Entries that fail to decode are skipped for
// delivery but still acked with the batch.
func (q *RedisQueue) Peek(ctx context.Context, sessionID string) (Batch, error) {
	raw, err := q.client.LRange(ctx, q.key(sessionID), 0, -1).Result()
	if err != nil {
		return Batch{}, err
	}
	return Batch{
		SessionID: sessionID,
		Messages:  decode(raw),
		raw:       raw,
		origin:    q,
	}, nil
}

// Ack implements Queue.
func (q *RedisQueue) Ack(ctx context.Context, batch Batch) error {
	if len(batch.raw) == 0 {
		return nil
	}
	args := make([]any, len(batch.raw))
	for i, r := range batch.raw {
		args[i] = r
	}
	if err := ackScript.Run(ctx, q.client, []string{q.key(batch.SessionID)}, args...).Err(); err != nil {
		return fmt.Errorf("ack session %s: %w", batch.SessionID, err)
	}
	return nil
}

// Drain implements Queue with a MULTI/EXEC LRANGE + DEL.
func (q *RedisQueue) Drain(ctx context.Context, sessionID string) ([]relay.Message, error) {
	key := q.key(sessionID)
	var lrange *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decode(lrange.Val()), nil
}

// Clear implements Queue.
func (q *RedisQueue) Clear(ctx context.Context, sessionID string) error {
	return q.client.Del(ctx, q.key(sessionID)).Err()
}

// Sessions implements Queue by scanning the message key space.
func (q *RedisQueue) Sessions(ctx context.Context) ([]string, error) {
	keys, err := q.Keys(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = strings.TrimPrefix(key, queueKeyPrefix)
	}
	return ids, nil
}

// Keys returns the raw message list keys, sorted.
func (q *RedisQueue) Keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := q.client.Scan(ctx, cursor, queueKeyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Queue. The client is owned by the store adapter.
func (q *RedisQueue) Close() error {
	return nil
}

func (q *RedisQueue) key(sessionID string) string {
	return queueKeyPrefix + sessionID
}

func decode(raw []string) []relay.Message {
	msgs := make([]relay.Message, 0, len(raw))
	for _, r := range raw {
		var m relay.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

var _ Queue = (*RedisQueue)(nil)
