package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

type batchHarness struct {
	db            *sql.DB
	queue         *queue.MemoryQueue
	coordinations *storage.CoordinationRepository
	progress      *storage.ProgressRepository
	coordinator   *Coordinator
	tracker       *Tracker
	clock         *fakeClock
	cfg           config.BatchConfig
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testBatchConfig() config.BatchConfig {
	return config.BatchConfig{
		DefaultBatchSize:     100,
		MinBatchSize:         10,
		MaxBatchSize:         1000,
		MaxConcurrency:       50,
		TargetLatency:        5 * time.Minute,
		WorkerTimeout:        15 * time.Minute,
		RunTimeout:           4 * time.Hour,
		HealthWindow:         6 * time.Hour,
		StalledAfter:         time.Hour,
		DegradedFailureRatio: 0.1,
	}
}

func newBatchHarness(t *testing.T) *batchHarness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Each sqlite :memory: connection is a separate database; pin to one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db, "sqlite"))

	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.Options{})
	coordinations := storage.NewCoordinationRepository(db)
	progress := storage.NewProgressRepository(db)

	coordinator := NewCoordinator(CoordinatorConfig{
		Coordinations: coordinations,
		Progress:      progress,
		Queue:         q,
		Now:           clock.Now,
	})
	tracker := NewTracker(TrackerConfig{
		Coordinations: coordinations,
		Progress:      progress,
		Now:           clock.Now,
	})

	return &batchHarness{
		db:            db,
		queue:         q,
		coordinations: coordinations,
		progress:      progress,
		coordinator:   coordinator,
		tracker:       tracker,
		clock:         clock,
		cfg:           testBatchConfig(),
	}
}

// dispatchItems fans out n trivial items in batches of size and returns the
// dispatch.
func (h *batchHarness) dispatchItems(t *testing.T, n, size int) *Dispatch {
	t.Helper()
	items := make([]json.RawMessage, n)
	for i := range items {
		items[i] = json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
	}
	dispatch, err := h.coordinator.Dispatch(context.Background(), ProcessingTypeMatchScoring, queue.QueueMatchPairs, items, size)
	require.NoError(t, err)
	return dispatch
}

func TestPartition(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	got := partition(items, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, got[0])
	assert.Equal(t, []int{7}, got[2])

	assert.Len(t, partition(items, 100), 1)
	assert.Nil(t, partition([]int{}, 3))
	assert.Nil(t, partition(items, 0))
}

func TestDecodeMessage(t *testing.T) {
	body := []byte(`{"coordination_id":"c1","batch_id":"c1-0000","batch_index":0,"batch_data":[{"tenant_id":"t1","company_id":"co1","notice_id":"n1"}]}`)
	msg, err := DecodeMessage(body)
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.CoordinationID)
	assert.Equal(t, "c1-0000", msg.BatchID)

	var pairs []MatchPairItem
	require.NoError(t, msg.Items(&pairs))
	require.Len(t, pairs, 1)
	assert.Equal(t, "n1", pairs[0].NoticeID)

	_, err = DecodeMessage([]byte(`{"batch_id":"x"}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}
