package batch

import (
	"time"

	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

const (
	// sizeStep is the fraction a batch size moves per optimization round.
	sizeStep = 0.25

	// Scale up only when a run is comfortably under target and clean.
	fastEnoughRatio = 0.6
	cleanErrorRate  = 0.02
)

// Snapshot summarizes recent batch performance for one processing type.
type Snapshot struct {
	AvgDuration time.Duration
	ErrorRate   float64
	DataPoints  int
}

// SnapshotFromRecords derives a performance snapshot from the progress rows
// of a finished coordination. Only terminal batches contribute.
func SnapshotFromRecords(recs []*storage.BatchProgressRecord) Snapshot {
	var (
		snap     Snapshot
		totalDur int64
		items    int
		errs     int
	)
	for _, rec := range recs {
		if rec.Status != storage.BatchStatusCompleted && rec.Status != storage.BatchStatusFailed {
			continue
		}
		snap.DataPoints++
		totalDur += rec.ProcessingDuration
		items += rec.ItemsTotal
		errs += rec.ErrorsCount
	}
	if snap.DataPoints > 0 {
		snap.AvgDuration = time.Duration(totalDur/int64(snap.DataPoints)) * time.Millisecond
	}
	if items > 0 {
		snap.ErrorRate = float64(errs) / float64(items)
	}
	return snap
}

// RetryConfig bounds per-batch retries.
type RetryConfig struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	Multiplier     float64       `json:"multiplier"`
}

// ConcurrencyConfig is the fan-out envelope handed to the coordinator.
type ConcurrencyConfig struct {
	MaxConcurrency int         `json:"max_concurrency"`
	Retry          RetryConfig `json:"retry"`
}

// Optimizer adapts batch size and concurrency to recent performance.
type Optimizer struct {
	cfg    config.BatchConfig
	logger *observability.Logger
}

// NewOptimizer creates an optimizer with the configured bounds.
func NewOptimizer(cfg config.BatchConfig, logger *observability.Logger) *Optimizer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Optimizer{cfg: cfg, logger: logger}
}

// Optimize returns the batch size and concurrency for the next run of a
// processing type. With no data points the current size is kept, clamped to
// bounds. A run that finished under 60% of the target latency with an error
// rate below 2% earns a 25% larger batch; violating either threshold shrinks
// it by 25%.
func (o *Optimizer) Optimize(processingType string, target time.Duration, current int, perf Snapshot) (int, ConcurrencyConfig) {
	if current <= 0 {
		current = o.cfg.DefaultBatchSize
	}
	if target <= 0 {
		target = o.cfg.TargetLatency
	}

	size := current
	concurrency := o.cfg.MaxConcurrency
	if perf.DataPoints > 0 {
		fast := perf.AvgDuration < time.Duration(float64(target)*fastEnoughRatio)
		clean := perf.ErrorRate < cleanErrorRate
		switch {
		case fast && clean:
			size = int(float64(current) * (1 + sizeStep))
		default:
			size = int(float64(current) * (1 - sizeStep))
			if !clean {
				// Error-driven shrink also halves fan-out so a flaky
				// downstream is not hammered at full width.
				concurrency = concurrency / 2
			}
		}
	}
	size = clampInt(size, o.cfg.MinBatchSize, o.cfg.MaxBatchSize)
	concurrency = clampInt(concurrency, 1, o.cfg.MaxConcurrency)

	o.logger.Debug().
		Str("processing_type", processingType).
		Int("current_batch_size", current).
		Int("optimized_batch_size", size).
		Int("max_concurrency", concurrency).
		Dur("avg_duration", perf.AvgDuration).
		Float64("error_rate", perf.ErrorRate).
		Int("data_points", perf.DataPoints).
		Msg("batch size optimized")

	return size, ConcurrencyConfig{
		MaxConcurrency: concurrency,
		Retry: RetryConfig{
			MaxAttempts:    maxBatchRetries,
			InitialBackoff: initialRetryBackoff,
			Multiplier:     retryBackoffMultiplier,
		},
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
