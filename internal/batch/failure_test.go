package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

func TestFailureHandler_RetriesWithBackoff(t *testing.T) {
	h := newBatchHarness(t)
	ctx := context.Background()

	handler := NewFailureHandler(FailureHandlerConfig{
		Progress: h.progress,
		Tracker:  h.tracker,
	})

	dispatch := h.dispatchItems(t, 20, 10)
	id := batchID(dispatch.CoordinationID, 0)
	info := ErrorInfo{ErrorType: "Transient", ErrorMessage: "embedding service throttled"}

	wantBackoff := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute}
	for attempt := 0; attempt < 3; attempt++ {
		decision, err := handler.Handle(ctx, dispatch.CoordinationID, id, info)
		require.NoError(t, err)
		assert.True(t, decision.Retry, "attempt %d", attempt+1)
		assert.Equal(t, attempt+1, decision.RetryCount)
		assert.Equal(t, wantBackoff[attempt], decision.Backoff)
	}

	row, err := h.progress.Get(ctx, dispatch.CoordinationID, id)
	require.NoError(t, err)
	assert.Equal(t, 3, row.RetryCount)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "embedding service throttled", *row.LastError)
}

func TestFailureHandler_ExhaustedRetriesMarkFailed(t *testing.T) {
	h := newBatchHarness(t)
	ctx := context.Background()

	handler := NewFailureHandler(FailureHandlerConfig{
		Progress: h.progress,
		Tracker:  h.tracker,
	})

	dispatch := h.dispatchItems(t, 20, 10)
	id := batchID(dispatch.CoordinationID, 0)
	info := ErrorInfo{ErrorType: "Permanent", ErrorMessage: "malformed batch data"}

	for attempt := 0; attempt < 3; attempt++ {
		decision, err := handler.Handle(ctx, dispatch.CoordinationID, id, info)
		require.NoError(t, err)
		require.True(t, decision.Retry)
	}

	decision, err := handler.Handle(ctx, dispatch.CoordinationID, id, info)
	require.NoError(t, err)
	assert.False(t, decision.Retry, "fourth failure is permanent")

	row, err := h.progress.Get(ctx, dispatch.CoordinationID, id)
	require.NoError(t, err)
	assert.Equal(t, storage.BatchStatusFailed, row.Status)
	assert.Equal(t, 10, row.ErrorsCount, "unprocessed items count as errors")

	rec, err := h.coordinations.GetByID(ctx, dispatch.CoordinationID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FailedBatches)
	assert.Equal(t, 10, rec.TotalErrors)
}

func TestFailureHandler_UnknownBatchErrors(t *testing.T) {
	h := newBatchHarness(t)
	ctx := context.Background()

	handler := NewFailureHandler(FailureHandlerConfig{
		Progress: h.progress,
		Tracker:  h.tracker,
	})

	dispatch := h.dispatchItems(t, 10, 10)
	_, err := handler.Handle(ctx, dispatch.CoordinationID, "no-such-batch", ErrorInfo{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
