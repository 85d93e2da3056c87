/**
 * Redis-backed work queue
 *
 * Layout under the queue name:
 *   <name>           LIST  ready message ids (LPUSH / RPOP)
 *   <name>:data      HASH  id -> body
 *   <name>:inflight  ZSET  id scored by visibility deadline (unix ms)
 *   <name>:receipts  HASH  id -> current receipt token
 *   <name>:attempts  HASH  id -> receive count
 *
 * Claiming, requeueing and deleting each run as one Lua script so a failed
 * call never leaves an id popped from the list but missing from the
 * in-flight set.
 */

package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimScript pops up to #ARGV-1 ids and moves each in flight under a fresh
// token. Ids whose data is gone were deleted after a requeue and are dropped.
// KEYS: ready, data, inflight, receipts, attempts
// ARGV: deadline, token...
var claimScript = redis.NewScript(`
local out = {}
for i = 2, #ARGV do
	local id = redis.call('RPOP', KEYS[1])
	if not id then
		break
	end
	local body = redis.call('HGET', KEYS[2], id)
	if body then
		redis.call('ZADD', KEYS[3], ARGV[1], id)
		redis.call('HSET', KEYS[4], id, ARGV[i])
		local n = redis.call('HINCRBY', KEYS[5], id, 1)
		table.insert(out, id)
		table.insert(out, body)
		table.insert(out, ARGV[i])
		table.insert(out, n)
	end
end
return out
`)

// requeueScript returns ids whose deadline passed to the ready list.
// KEYS: inflight, receipts, ready
// ARGV: now
var requeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('HDEL', KEYS[2], id)
	redis.call('LPUSH', KEYS[3], id)
end
return #expired
`)

// deleteScript removes a message only while the token still owns it.
// KEYS: receipts, inflight, data, attempts
// ARGV: id, token
var deleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

// RedisQueue implements Queue on plain Redis data structures
type RedisQueue struct {
	client     *redis.Client
	name       string
	visibility time.Duration
	ownsClient bool
	now        func() time.Time

	pollInterval time.Duration
}

// RedisQueueConfig holds queue configuration
type RedisQueueConfig struct {
	RedisURL          string
	QueueName         string
	VisibilityTimeout time.Duration
}

// NewRedisQueue connects to Redis and verifies the connection
func NewRedisQueue(ctx context.Context, cfg *RedisQueueConfig) (*RedisQueue, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	// Parse Redis URL
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := NewRedisQueueFromClient(client, cfg)
	q.ownsClient = true
	return q, nil
}

// NewRedisQueueFromClient wraps an existing client; Close leaves the client open.
func NewRedisQueueFromClient(client *redis.Client, cfg *RedisQueueConfig) *RedisQueue {
	name := cfg.QueueName
	if name == "" {
		name = "vision:items"
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}

	return &RedisQueue{
		client:     client,
		name:       name,
		visibility: visibility,
		now:        time.Now,

		pollInterval: 100 * time.Millisecond,
	}
}

func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("%s:%s", q.name, suffix)
}

func (q *RedisQueue) Send(ctx context.Context, body string) error {
	id := uuid.NewString()

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("data"), id, body)
		pipe.LPush(ctx, q.name, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Receive polls until a message is ready or wait elapses. Each poll requeues
// expired messages and claims a batch in one script call each.
func (q *RedisQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	maxMessages = clampMax(maxMessages, 10)
	start := time.Now()

	for {
		msgs, err := q.receiveOnce(ctx, maxMessages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}

		remaining := wait - time.Since(start)
		if remaining <= 0 {
			return []Message{}, nil
		}
		pause := q.pollInterval
		if remaining < pause {
			pause = remaining
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *RedisQueue) receiveOnce(ctx context.Context, maxMessages int) ([]Message, error) {
	now := q.now()

	err := requeueScript.Run(ctx, q.client,
		[]string{q.key("inflight"), q.key("receipts"), q.name},
		now.UnixMilli()).Err()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to requeue expired messages: %w", err)
	}

	args := make([]interface{}, 0, maxMessages+1)
	args = append(args, now.Add(q.visibility).UnixMilli())
	for i := 0; i < maxMessages; i++ {
		args = append(args, uuid.NewString())
	}

	result, err := claimScript.Run(ctx, q.client,
		[]string{q.name, q.key("data"), q.key("inflight"), q.key("receipts"), q.key("attempts")},
		args...).Slice()
	if err == redis.Nil {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return parseClaimed(result)
}

// parseClaimed reads the flat id, body, token, count tuples claimScript returns.
func parseClaimed(result []interface{}) ([]Message, error) {
	if len(result)%4 != 0 {
		return nil, fmt.Errorf("invalid claim result of length %d", len(result))
	}

	msgs := make([]Message, 0, len(result)/4)
	for i := 0; i < len(result); i += 4 {
		id, ok1 := result[i].(string)
		body, ok2 := result[i+1].(string)
		token, ok3 := result[i+2].(string)
		count, ok4 := result[i+3].(int64)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, fmt.Errorf("invalid claim result entry %v", result[i:i+4])
		}
		msgs = append(msgs, Message{
			ID:            id,
			Body:          body,
			ReceiptHandle: id + ":" + token,
			ReceiveCount:  int(count),
		})
	}
	return msgs, nil
}

func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	id, token, ok := strings.Cut(receiptHandle, ":")
	if !ok || id == "" || token == "" {
		return ErrStaleReceipt
	}

	deleted, err := deleteScript.Run(ctx, q.client,
		[]string{q.key("receipts"), q.key("inflight"), q.key("data"), q.key("attempts")},
		id, token).Int()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if deleted == 0 {
		return ErrStaleReceipt
	}
	return nil
}

// Stats returns queue depth
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	waiting, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return Stats{}, err
	}
	inflight, err := q.client.ZCard(ctx, q.key("inflight")).Result()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Waiting: waiting, InFlight: inflight}, nil
}

func (q *RedisQueue) Close() error {
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}
