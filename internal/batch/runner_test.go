package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

func newRunner(t *testing.T, h *batchHarness) *Runner {
	t.Helper()

	// Run against the wall clock so progress-row TTLs seeded at dispatch
	// survive the finalize purge between two back-to-back runs.
	h.coordinator = NewCoordinator(CoordinatorConfig{
		Coordinations: h.coordinations,
		Progress:      h.progress,
		Queue:         h.queue,
	})
	h.tracker = NewTracker(TrackerConfig{
		Coordinations: h.coordinations,
		Progress:      h.progress,
	})

	opportunities := storage.NewOpportunityRepository(h.db)
	companies := storage.NewCompanyRepository(h.db)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, opportunities.Upsert(ctx, &storage.Opportunity{
			NoticeID:   fmt.Sprintf("notice-%d", i),
			Title:      fmt.Sprintf("Opportunity %d", i),
			NAICSCode:  "541511",
			PostedDate: time.Now().UTC(),
			Active:     true,
		}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, companies.Upsert(ctx, &storage.CompanyProfile{
			CompanyID: fmt.Sprintf("company-%d", i),
			TenantID:  "tenant-1",
			LegalName: fmt.Sprintf("Company %d", i),
		}))
	}

	return NewRunner(RunnerConfig{
		Optimizer:     NewOptimizer(h.cfg, nil),
		Coordinator:   h.coordinator,
		Coordinations: h.coordinations,
		Progress:      h.progress,
		Opportunities: opportunities,
		Companies:     companies,
		Batch:         h.cfg,
		PollInterval:  5 * time.Millisecond,
	})
}

// drainPairs plays the worker side: it consumes queued batches and reports
// every item processed.
func drainPairs(t *testing.T, h *batchHarness, ctx context.Context) {
	t.Helper()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := h.queue.Receive(ctx, queue.QueueMatchPairs, 5)
		if err != nil || len(msgs) == 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		for _, raw := range msgs {
			msg, err := DecodeMessage(raw.Body)
			require.NoError(t, err)
			var items []MatchPairItem
			require.NoError(t, msg.Items(&items))

			_, err = h.tracker.Record(ctx, Update{
				CoordinationID: msg.CoordinationID,
				BatchID:        msg.BatchID,
				BatchIndex:     msg.BatchIndex,
				ItemsProcessed: len(items),
				ItemsTotal:     len(items),
				Duration:       10 * time.Millisecond,
				Status:         storage.BatchStatusCompleted,
			})
			require.NoError(t, err)
			require.NoError(t, h.queue.Delete(ctx, queue.QueueMatchPairs, raw))
		}
	}
}

func TestRunner_RunNightlyCompletes(t *testing.T) {
	h := newBatchHarness(t)
	runner := newRunner(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go drainPairs(t, h, ctx)

	result, err := runner.RunNightly(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.CoordinationStatusCompleted, result.Status)
	assert.Equal(t, 12, result.TotalItems, "4 opportunities by 3 companies")
	assert.Equal(t, 100, result.BatchSize, "first run keeps the default size")
	assert.Equal(t, 1, result.TotalBatches)
	assert.Zero(t, result.FailedBatches)
}

func TestRunner_SecondRunOptimizesFromFirst(t *testing.T) {
	h := newBatchHarness(t)
	runner := newRunner(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go drainPairs(t, h, ctx)

	first, err := runner.RunNightly(ctx)
	require.NoError(t, err)

	second, err := runner.RunNightly(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.CoordinationID, second.CoordinationID)
	// The first run was fast and clean, so the size grows from the
	// inferred previous size (12 items in 1 batch) by 25%.
	assert.Equal(t, 15, second.BatchSize)
}

func TestRunner_TargetReturnsCoordinationHandle(t *testing.T) {
	h := newBatchHarness(t)
	runner := newRunner(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go drainPairs(t, h, ctx)

	handle, err := runner.Target()(ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	rec, err := runner.Await(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, storage.CoordinationStatusCompleted, rec.Status)
}

func TestRunner_NoPairsIsAnError(t *testing.T) {
	h := newBatchHarness(t)
	runner := NewRunner(RunnerConfig{
		Optimizer:     NewOptimizer(h.cfg, nil),
		Coordinator:   h.coordinator,
		Coordinations: h.coordinations,
		Progress:      h.progress,
		Opportunities: storage.NewOpportunityRepository(h.db),
		Companies:     storage.NewCompanyRepository(h.db),
		Batch:         h.cfg,
	})

	_, err := runner.RunNightly(context.Background())
	assert.Error(t, err)
}
