package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

func TestOptimizer_ScalesUpWhenFastAndClean(t *testing.T) {
	o := NewOptimizer(testBatchConfig(), nil)

	size, conc := o.Optimize(ProcessingTypeMatchScoring, 5*time.Minute, 100, Snapshot{
		AvgDuration: 2 * time.Minute, // under 60% of target
		ErrorRate:   0.01,
		DataPoints:  8,
	})
	assert.Equal(t, 125, size)
	assert.Equal(t, 50, conc.MaxConcurrency)
	assert.Equal(t, 3, conc.Retry.MaxAttempts)
}

func TestOptimizer_ScalesDownWhenSlow(t *testing.T) {
	o := NewOptimizer(testBatchConfig(), nil)

	size, conc := o.Optimize(ProcessingTypeMatchScoring, 5*time.Minute, 100, Snapshot{
		AvgDuration: 4 * time.Minute, // over 60% of target
		ErrorRate:   0.0,
		DataPoints:  8,
	})
	assert.Equal(t, 75, size)
	// Slow but clean: fan-out width is kept.
	assert.Equal(t, 50, conc.MaxConcurrency)
}

func TestOptimizer_ErrorRateShrinksSizeAndConcurrency(t *testing.T) {
	o := NewOptimizer(testBatchConfig(), nil)

	size, conc := o.Optimize(ProcessingTypeMatchScoring, 5*time.Minute, 100, Snapshot{
		AvgDuration: time.Minute,
		ErrorRate:   0.10,
		DataPoints:  8,
	})
	assert.Equal(t, 75, size)
	assert.Equal(t, 25, conc.MaxConcurrency)
}

func TestOptimizer_ClampsToBounds(t *testing.T) {
	o := NewOptimizer(testBatchConfig(), nil)

	fast := Snapshot{AvgDuration: time.Second, ErrorRate: 0, DataPoints: 5}
	size, _ := o.Optimize(ProcessingTypeMatchScoring, 5*time.Minute, 900, fast)
	assert.Equal(t, 1000, size, "scale up clamps to maximum")

	slow := Snapshot{AvgDuration: 10 * time.Minute, ErrorRate: 0, DataPoints: 5}
	size, _ = o.Optimize(ProcessingTypeMatchScoring, 5*time.Minute, 12, slow)
	assert.Equal(t, 10, size, "scale down clamps to minimum")
}

func TestOptimizer_NoDataKeepsCurrent(t *testing.T) {
	o := NewOptimizer(testBatchConfig(), nil)

	size, conc := o.Optimize(ProcessingTypeMatchScoring, 5*time.Minute, 200, Snapshot{})
	assert.Equal(t, 200, size)
	assert.Equal(t, 50, conc.MaxConcurrency)

	// Zero current falls back to the configured default.
	size, _ = o.Optimize(ProcessingTypeMatchScoring, 5*time.Minute, 0, Snapshot{})
	assert.Equal(t, 100, size)
}

func TestSnapshotFromRecords(t *testing.T) {
	recs := []*storage.BatchProgressRecord{
		{Status: storage.BatchStatusCompleted, ProcessingDuration: 60_000, ItemsTotal: 100, ErrorsCount: 1},
		{Status: storage.BatchStatusCompleted, ProcessingDuration: 120_000, ItemsTotal: 100, ErrorsCount: 0},
		{Status: storage.BatchStatusFailed, ProcessingDuration: 180_000, ItemsTotal: 100, ErrorsCount: 100},
		{Status: storage.BatchStatusProcessing, ProcessingDuration: 5_000, ItemsTotal: 100},
	}

	snap := SnapshotFromRecords(recs)
	assert.Equal(t, 3, snap.DataPoints, "in-flight batches do not contribute")
	assert.Equal(t, 2*time.Minute, snap.AvgDuration)
	assert.InDelta(t, 101.0/300.0, snap.ErrorRate, 1e-9)

	assert.Equal(t, Snapshot{}, SnapshotFromRecords(nil))
}
