package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clockedQueue lets tests advance a queue's clock.
type clockedQueue struct {
	Queue
	advance func(d time.Duration)
}

func queuesUnderTest(t *testing.T, opts Options) map[string]clockedQueue {
	t.Helper()

	mem := NewMemoryQueue(opts)
	memNow := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return memNow }

	mr := miniredis.RunT(t)
	rq, err := NewRedisQueue(RedisQueueConfig{Addr: mr.Addr()}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rq.Close() })
	redisNow := memNow
	rq.now = func() time.Time { return redisNow }

	return map[string]clockedQueue{
		"memory": {Queue: mem, advance: func(d time.Duration) { memNow = memNow.Add(d) }},
		"redis": {Queue: rq, advance: func(d time.Duration) {
			redisNow = redisNow.Add(d)
			mr.FastForward(d)
		}},
	}
}

func TestQueueSendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	for name, q := range queuesUnderTest(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Send(ctx, QueueMatchPairs, []byte(`{"company_id":"c1"}`)))
			require.NoError(t, q.Send(ctx, QueueMatchPairs, []byte(`{"company_id":"c2"}`)))

			depth, err := q.Depth(ctx, QueueMatchPairs)
			require.NoError(t, err)
			assert.Equal(t, 2, depth)

			msgs, err := q.Receive(ctx, QueueMatchPairs, 10)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, []byte(`{"company_id":"c1"}`), msgs[0].Body)
			assert.Equal(t, 1, msgs[0].ReceiveCount)

			// In flight, not waiting.
			depth, err = q.Depth(ctx, QueueMatchPairs)
			require.NoError(t, err)
			assert.Equal(t, 0, depth)

			for _, msg := range msgs {
				require.NoError(t, q.Delete(ctx, QueueMatchPairs, msg))
			}

			// Acknowledged messages never come back.
			q.advance(time.Hour)
			msgs, err = q.Receive(ctx, QueueMatchPairs, 10)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestQueueReceiveEmptyIsNotError(t *testing.T) {
	ctx := context.Background()
	for name, q := range queuesUnderTest(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			msgs, err := q.Receive(ctx, QueueOpportunityBatches, 5)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestQueueVisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	opts := Options{VisibilityTimeout: time.Minute}
	for name, q := range queuesUnderTest(t, opts) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Send(ctx, QueueProfileDocuments, []byte("doc")))

			msgs, err := q.Receive(ctx, QueueProfileDocuments, 1)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, 1, msgs[0].ReceiveCount)

			// Before the deadline nothing is redelivered.
			msgs2, err := q.Receive(ctx, QueueProfileDocuments, 1)
			require.NoError(t, err)
			assert.Empty(t, msgs2)

			q.advance(2 * time.Minute)

			msgs3, err := q.Receive(ctx, QueueProfileDocuments, 1)
			require.NoError(t, err)
			require.Len(t, msgs3, 1)
			assert.Equal(t, msgs[0].ID, msgs3[0].ID)
			assert.Equal(t, 2, msgs3[0].ReceiveCount)
		})
	}
}

func TestQueueDeadLetterAfterMaxReceive(t *testing.T) {
	ctx := context.Background()
	opts := Options{VisibilityTimeout: time.Minute, MaxReceive: 2}
	for name, q := range queuesUnderTest(t, opts) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Send(ctx, QueueOpportunityBatches, []byte("poison")))

			// Two failed deliveries exhaust the receive limit.
			for i := 0; i < 2; i++ {
				msgs, err := q.Receive(ctx, QueueOpportunityBatches, 1)
				require.NoError(t, err)
				require.Len(t, msgs, 1, "delivery %d", i+1)
				q.advance(2 * time.Minute)
			}

			msgs, err := q.Receive(ctx, QueueOpportunityBatches, 1)
			require.NoError(t, err)
			assert.Empty(t, msgs, "poison message must not be redelivered")

			dead, err := q.Receive(ctx, DeadLetterQueue(QueueOpportunityBatches), 1)
			require.NoError(t, err)
			require.Len(t, dead, 1)
			assert.Equal(t, []byte("poison"), dead[0].Body)
		})
	}
}

func TestQueueSendUnique(t *testing.T) {
	ctx := context.Background()
	for name, q := range queuesUnderTest(t, Options{DedupWindow: time.Hour}) {
		t.Run(name, func(t *testing.T) {
			sent, err := q.SendUnique(ctx, QueueOpportunityBatches, "sha256:abc", []byte("rows"))
			require.NoError(t, err)
			assert.True(t, sent)

			sent, err = q.SendUnique(ctx, QueueOpportunityBatches, "sha256:abc", []byte("rows"))
			require.NoError(t, err)
			assert.False(t, sent, "same content hash within the window is dropped")

			sent, err = q.SendUnique(ctx, QueueOpportunityBatches, "sha256:def", []byte("other"))
			require.NoError(t, err)
			assert.True(t, sent)

			depth, err := q.Depth(ctx, QueueOpportunityBatches)
			require.NoError(t, err)
			assert.Equal(t, 2, depth)

			// A new window admits the key again.
			q.advance(2 * time.Hour)
			sent, err = q.SendUnique(ctx, QueueOpportunityBatches, "sha256:abc", []byte("rows"))
			require.NoError(t, err)
			assert.True(t, sent)
		})
	}
}

func TestQueueSendUniqueBatch(t *testing.T) {
	ctx := context.Background()
	for name, q := range queuesUnderTest(t, Options{DedupWindow: time.Hour}) {
		t.Run(name, func(t *testing.T) {
			entries := []Entry{
				{DedupKey: "b1", Body: []byte("one")},
				{DedupKey: "b2", Body: []byte("two")},
				{DedupKey: "b1", Body: []byte("one again")},
			}
			sent, err := q.SendUniqueBatch(ctx, QueueMatchPairs, entries)
			require.NoError(t, err)
			assert.Equal(t, 2, sent, "duplicate key inside one group is dropped")

			// A second group with already-seen keys sends nothing.
			sent, err = q.SendUniqueBatch(ctx, QueueMatchPairs, entries[:2])
			require.NoError(t, err)
			assert.Equal(t, 0, sent)

			depth, err := q.Depth(ctx, QueueMatchPairs)
			require.NoError(t, err)
			assert.Equal(t, 2, depth)

			// Entries without a key are never deduplicated.
			sent, err = q.SendUniqueBatch(ctx, QueueMatchPairs, []Entry{{Body: []byte("x")}, {Body: []byte("x")}})
			require.NoError(t, err)
			assert.Equal(t, 2, sent)

			tooMany := make([]Entry, MaxBatchEntries+1)
			for i := range tooMany {
				tooMany[i] = Entry{Body: []byte("n")}
			}
			_, err = q.SendUniqueBatch(ctx, QueueMatchPairs, tooMany)
			assert.ErrorIs(t, err, ErrBatchTooLarge)
		})
	}
}

func TestQueueReceiveMaxIsBounded(t *testing.T) {
	ctx := context.Background()
	for name, q := range queuesUnderTest(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, q.Send(ctx, QueueMatchPairs, []byte{byte('a' + i)}))
			}
			msgs, err := q.Receive(ctx, QueueMatchPairs, 3)
			require.NoError(t, err)
			assert.Len(t, msgs, 3)
		})
	}
}
