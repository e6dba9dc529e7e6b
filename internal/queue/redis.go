package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on Redis lists. Waiting message IDs live in a
// list, payloads in a hash, and in-flight messages in a sorted set scored by
// their visibility deadline so expired deliveries can be requeued.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	prefix string
	now    func() time.Time
}

// RedisQueueConfig holds Redis queue connection configuration.
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(cfg RedisQueueConfig, opts Options) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "gm:q:"
	}

	return &RedisQueue{
		client: client,
		opts:   opts.withDefaults(),
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (q *RedisQueue) listKey(queue string) string     { return q.prefix + queue }
func (q *RedisQueue) payloadKey(queue string) string  { return q.prefix + queue + ":payloads" }
func (q *RedisQueue) inflightKey(queue string) string { return q.prefix + queue + ":inflight" }
func (q *RedisQueue) dedupKey(queue, key string) string {
	return q.prefix + "dedup:" + queue + ":" + key
}

// Send enqueues one message.
func (q *RedisQueue) Send(ctx context.Context, queue string, body []byte) error {
	msg := &Message{ID: newMessageID(), Body: body, EnqueuedAt: q.now().UTC()}
	return q.push(ctx, queue, msg)
}

// SendUnique enqueues the message unless dedupKey was seen within the window.
func (q *RedisQueue) SendUnique(ctx context.Context, queue, dedupKey string, body []byte) (bool, error) {
	ok, err := q.client.SetNX(ctx, q.dedupKey(queue, dedupKey), "1", q.opts.DedupWindow).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx dedup: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := q.Send(ctx, queue, body); err != nil {
		return false, err
	}
	return true, nil
}

// SendUniqueBatch enqueues up to MaxBatchEntries entries, pipelining the
// dedup reservations in one round trip.
func (q *RedisQueue) SendUniqueBatch(ctx context.Context, queue string, entries []Entry) (int, error) {
	if len(entries) > MaxBatchEntries {
		return 0, ErrBatchTooLarge
	}
	if len(entries) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	reserved := make([]*redis.BoolCmd, len(entries))
	for i, e := range entries {
		if e.DedupKey == "" {
			continue
		}
		reserved[i] = pipe.SetNX(ctx, q.dedupKey(queue, e.DedupKey), "1", q.opts.DedupWindow)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis setnx dedup batch: %w", err)
	}

	sent := 0
	for i, e := range entries {
		if reserved[i] != nil && !reserved[i].Val() {
			continue
		}
		if err := q.Send(ctx, queue, e.Body); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Receive dequeues up to max messages.
func (q *RedisQueue) Receive(ctx context.Context, queue string, max int) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	if err := q.reap(ctx, queue); err != nil {
		return nil, err
	}

	out := make([]*Message, 0, max)
	for len(out) < max {
		id, err := q.client.RPop(ctx, q.listKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("redis rpop: %w", err)
		}

		data, err := q.client.HGet(ctx, q.payloadKey(queue), id).Bytes()
		if errors.Is(err, redis.Nil) {
			// Payload already acknowledged elsewhere; skip the orphan ID.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis hget payload: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode queue message %s: %w", id, err)
		}
		msg.ReceiveCount++

		updated, err := json.Marshal(&msg)
		if err != nil {
			return nil, fmt.Errorf("encode queue message: %w", err)
		}
		deadline := q.now().Add(q.opts.VisibilityTimeout)
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.payloadKey(queue), id, updated)
		pipe.ZAdd(ctx, q.inflightKey(queue), redis.Z{Score: float64(deadline.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis mark inflight: %w", err)
		}

		out = append(out, &msg)
	}
	return out, nil
}

// Delete acknowledges a message.
func (q *RedisQueue) Delete(ctx context.Context, queue string, msg *Message) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(queue), msg.ID)
	pipe.HDel(ctx, q.payloadKey(queue), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete message: %w", err)
	}
	return nil
}

// Depth reports waiting (not in-flight) messages.
func (q *RedisQueue) Depth(ctx context.Context, queue string) (int, error) {
	if err := q.reap(ctx, queue); err != nil {
		return 0, err
	}
	n, err := q.client.LLen(ctx, q.listKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// push stores the payload and makes the message visible.
func (q *RedisQueue) push(ctx context.Context, queue string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.payloadKey(queue), msg.ID, data)
	pipe.LPush(ctx, q.listKey(queue), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	return nil
}

// reap requeues in-flight messages whose visibility deadline has passed,
// dead-lettering ones past the receive limit.
func (q *RedisQueue) reap(ctx context.Context, queue string) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis scan inflight: %w", err)
	}

	for _, id := range ids {
		data, err := q.client.HGet(ctx, q.payloadKey(queue), id).Bytes()
		if errors.Is(err, redis.Nil) {
			q.client.ZRem(ctx, q.inflightKey(queue), id)
			continue
		}
		if err != nil {
			return fmt.Errorf("redis hget payload: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode queue message %s: %w", id, err)
		}

		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.inflightKey(queue), id)
		if msg.ReceiveCount >= q.opts.MaxReceive {
			dead := DeadLetterQueue(queue)
			pipe.HDel(ctx, q.payloadKey(queue), id)
			pipe.HSet(ctx, q.payloadKey(dead), id, data)
			pipe.LPush(ctx, q.listKey(dead), id)
		} else {
			pipe.LPush(ctx, q.listKey(queue), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis requeue: %w", err)
		}
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
