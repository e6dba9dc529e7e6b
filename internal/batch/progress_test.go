package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// recordingNotifier captures threshold notifications.
type recordingNotifier struct {
	fired []int
}

func (n *recordingNotifier) Notify(ctx context.Context, rec *storage.CoordinationRecord, threshold int) error {
	n.fired = append(n.fired, threshold)
	return nil
}

func TestTracker_AggregatesProgress(t *testing.T) {
	h := newBatchHarness(t)
	ctx := context.Background()

	dispatch := h.dispatchItems(t, 40, 10)

	rec, err := h.tracker.Record(ctx, Update{
		CoordinationID: dispatch.CoordinationID,
		BatchID:        batchID(dispatch.CoordinationID, 0),
		ItemsProcessed: 10,
		ItemsTotal:     10,
		Duration:       30 * time.Second,
		Status:         storage.BatchStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.CoordinationStatusProcessing, rec.Status)
	assert.Equal(t, 1, rec.CompletedBatches)
	assert.Equal(t, 10, rec.TotalItemsProcessed)
	assert.InDelta(t, 25.0, rec.ProgressPercentage, 1e-9)

	// A partial in-flight update moves items but not batch counters.
	rec, err = h.tracker.Record(ctx, Update{
		CoordinationID: dispatch.CoordinationID,
		BatchID:        batchID(dispatch.CoordinationID, 1),
		BatchIndex:     1,
		ItemsProcessed: 5,
		ItemsTotal:     10,
		Status:         storage.BatchStatusProcessing,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CompletedBatches)
	assert.Equal(t, 1, rec.ProcessingBatches)
	assert.InDelta(t, 37.5, rec.ProgressPercentage, 1e-9)
}

func TestTracker_CompletionStatus(t *testing.T) {
	h := newBatchHarness(t)
	ctx := context.Background()

	dispatch := h.dispatchItems(t, 20, 10)
	var rec *storage.CoordinationRecord
	var err error
	for i := 0; i < 2; i++ {
		rec, err = h.tracker.Record(ctx, Update{
			CoordinationID: dispatch.CoordinationID,
			BatchID:        batchID(dispatch.CoordinationID, i),
			BatchIndex:     i,
			ItemsProcessed: 10,
			ItemsTotal:     10,
			Status:         storage.BatchStatusCompleted,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, storage.CoordinationStatusCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.InDelta(t, 100.0, rec.ProgressPercentage, 1e-9)
}

func TestTracker_FailedBatchYieldsCompletedWithErrors(t *testing.T) {
	h := newBatchHarness(t)
	ctx := context.Background()

	dispatch := h.dispatchItems(t, 20, 10)
	_, err := h.tracker.Record(ctx, Update{
		CoordinationID: dispatch.CoordinationID,
		BatchID:        batchID(dispatch.CoordinationID, 0),
		ItemsProcessed: 10,
		ItemsTotal:     10,
		Status:         storage.BatchStatusCompleted,
	})
	require.NoError(t, err)

	rec, err := h.tracker.Record(ctx, Update{
		CoordinationID: dispatch.CoordinationID,
		BatchID:        batchID(dispatch.CoordinationID, 1),
		BatchIndex:     1,
		ItemsProcessed: 2,
		ItemsTotal:     10,
		ErrorsCount:    8,
		Status:         storage.BatchStatusFailed,
		LastError:      "embedder unavailable",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.CoordinationStatusCompletedWithErrors, rec.Status)
	assert.Equal(t, 1, rec.FailedBatches)
	assert.Equal(t, 8, rec.TotalErrors)

	row, err := h.progress.Get(ctx, dispatch.CoordinationID, batchID(dispatch.CoordinationID, 1))
	require.NoError(t, err)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "embedder unavailable", *row.LastError)
}

func TestTracker_NotificationsFireOncePerThreshold(t *testing.T) {
	h := newBatchHarness(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	tracker := NewTracker(TrackerConfig{
		Coordinations: h.coordinations,
		Progress:      h.progress,
		Notifier:      notifier,
		Now:           h.clock.Now,
	})

	dispatch := h.dispatchItems(t, 100, 10)

	update := func(idx, processed int, status storage.BatchStatus) {
		t.Helper()
		_, err := tracker.Record(ctx, Update{
			CoordinationID: dispatch.CoordinationID,
			BatchID:        batchID(dispatch.CoordinationID, idx),
			BatchIndex:     idx,
			ItemsProcessed: processed,
			ItemsTotal:     10,
			Status:         status,
		})
		require.NoError(t, err)
	}

	// 30% crosses only the 25 threshold.
	for i := 0; i < 3; i++ {
		update(i, 10, storage.BatchStatusCompleted)
	}
	assert.Equal(t, []int{25}, notifier.fired)

	// Re-reporting the same batch does not re-fire.
	update(2, 10, storage.BatchStatusCompleted)
	assert.Equal(t, []int{25}, notifier.fired)

	// Jumping from 30% to 95% fires 50, 75 and 90 in one update round.
	for i := 3; i < 9; i++ {
		update(i, 10, storage.BatchStatusCompleted)
	}
	update(9, 5, storage.BatchStatusProcessing)
	assert.Equal(t, []int{25, 50, 75, 90}, notifier.fired)

	update(9, 10, storage.BatchStatusCompleted)
	assert.Equal(t, []int{25, 50, 75, 90, 100}, notifier.fired)
}
