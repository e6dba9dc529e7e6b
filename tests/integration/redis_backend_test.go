package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/cache"
	"github.com/govmatch-ai/govmatch/internal/queue"
)

// TestRedisQueueDelivery exercises the Redis queue backend end to end:
// send, receive with visibility, acknowledge, and deduplicated sends.
func TestRedisQueueDelivery(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()
	q := s.Deps.Queue
	const name = "integration-test-queue"

	require.NoError(t, q.Send(ctx, name, []byte(`{"n":1}`)))
	require.NoError(t, q.Send(ctx, name, []byte(`{"n":2}`)))

	depth, err := q.Depth(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	msgs, err := q.Receive(ctx, name, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	// In flight messages are invisible to other consumers.
	more, err := q.Receive(ctx, name, 10)
	require.NoError(t, err)
	assert.Empty(t, more)

	for _, msg := range msgs {
		require.NoError(t, q.Delete(ctx, name, msg))
	}
	depth, err = q.Depth(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestRedisQueueDeduplication(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()
	q := s.Deps.Queue
	const name = "integration-dedup-queue"

	sent, err := q.SendUnique(ctx, name, "row-batch-1", []byte(`{"rows":1}`))
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = q.SendUnique(ctx, name, "row-batch-1", []byte(`{"rows":1}`))
	require.NoError(t, err)
	assert.False(t, sent)

	accepted, err := q.SendUniqueBatch(ctx, name, []queue.Entry{
		{DedupKey: "row-batch-1", Body: []byte(`{"rows":1}`)},
		{DedupKey: "row-batch-2", Body: []byte(`{"rows":2}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)

	depth, err := q.Depth(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

// TestRedisCacheRoundTrip covers set, get, TTL expiry, and prefix deletes
// against a real Redis server instead of miniredis.
func TestRedisCacheRoundTrip(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()
	c := s.Deps.Cache

	require.NoError(t, c.Set(ctx, "match:abc", []byte(`{"score":0.8}`), time.Minute))
	got, err := c.Get(ctx, "match:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":0.8}`, string(got))

	_, err = c.Get(ctx, "match:missing")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "match:def", []byte(`{}`), time.Minute))
	require.NoError(t, c.DeleteByPrefix(ctx, "match:"))

	_, err = c.Get(ctx, "match:abc")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	_, err = c.Get(ctx, "match:def")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// Short TTLs expire server-side.
	require.NoError(t, c.Set(ctx, "ephemeral", []byte("x"), 100*time.Millisecond))
	time.Sleep(300 * time.Millisecond)
	_, err = c.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

// TestRedisPublishSubscribe verifies weight-config fanout works over a
// real Redis pub/sub channel.
func TestRedisPublishSubscribe(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	pub, ok := s.Deps.Cache.(cache.Publisher)
	require.True(t, ok, "redis cache must implement Publisher")

	msgs, stop, err := pub.Subscribe(ctx, "weights-changed")
	require.NoError(t, err)
	defer stop()

	// Subscription setup races the publish; retry until delivery.
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, pub.Publish(ctx, "weights-changed", map[string]string{"tenant_id": "t1"}))
		select {
		case payload := <-msgs:
			assert.Contains(t, string(payload), "t1")
			return
		case <-deadline:
			t.Fatal("timed out waiting for published message")
		case <-time.After(100 * time.Millisecond):
		}
	}
}
