package batch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/govmatch-ai/govmatch/internal/metrics"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// notifyThresholds are the progress percentages that fire a notification,
// once each per coordination.
var notifyThresholds = []int{25, 50, 75, 90, 100}

// Notifier delivers a one-shot progress notification.
type Notifier interface {
	Notify(ctx context.Context, rec *storage.CoordinationRecord, threshold int) error
}

// LogNotifier is the default Notifier; it writes the crossing to the log.
type LogNotifier struct {
	Logger *observability.Logger
}

// Notify logs the threshold crossing.
func (n *LogNotifier) Notify(ctx context.Context, rec *storage.CoordinationRecord, threshold int) error {
	n.Logger.WithCoordination(rec.CoordinationID).Info().
		Str("processing_type", rec.ProcessingType).
		Int("threshold", threshold).
		Float64("progress_percentage", rec.ProgressPercentage).
		Msg("progress threshold crossed")
	return nil
}

// TrackerConfig wires a Tracker.
type TrackerConfig struct {
	Coordinations *storage.CoordinationRepository
	Progress      *storage.ProgressRepository
	Metrics       *metrics.Registry
	Notifier      Notifier
	Logger        *observability.Logger
	Now           func() time.Time
}

// Tracker folds per-batch updates into the coordination aggregate.
type Tracker struct {
	coordinations *storage.CoordinationRepository
	progress      *storage.ProgressRepository
	metrics       *metrics.Registry
	notifier      Notifier
	logger        *observability.Logger
	now           func() time.Time
}

// NewTracker creates a progress tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = &LogNotifier{Logger: cfg.Logger}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		coordinations: cfg.Coordinations,
		progress:      cfg.Progress,
		metrics:       cfg.Metrics,
		notifier:      cfg.Notifier,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// Update is one batch worker's report.
type Update struct {
	CoordinationID string
	BatchID        string
	BatchIndex     int
	ItemsProcessed int
	ItemsTotal     int
	ErrorsCount    int
	Duration       time.Duration
	Status         storage.BatchStatus
	LastError      string
}

// Record persists a batch update and recomputes the coordination aggregate:
// counters, overall progress as total items processed over total items, the
// derived status, and any newly crossed notification thresholds. Aggregates
// are recomputed from the stored batch rows each time, so concurrent workers
// converge regardless of update order.
func (t *Tracker) Record(ctx context.Context, upd Update) (*storage.CoordinationRecord, error) {
	rec, err := t.coordinations.GetByID(ctx, upd.CoordinationID)
	if err != nil {
		return nil, fmt.Errorf("load coordination %s: %w", upd.CoordinationID, err)
	}

	row := &storage.BatchProgressRecord{
		CoordinationID:     upd.CoordinationID,
		BatchID:            upd.BatchID,
		BatchIndex:         upd.BatchIndex,
		ItemsProcessed:     upd.ItemsProcessed,
		ItemsTotal:         upd.ItemsTotal,
		ErrorsCount:        upd.ErrorsCount,
		ProcessingDuration: upd.Duration.Milliseconds(),
		Status:             upd.Status,
	}
	if upd.LastError != "" {
		row.LastError = &upd.LastError
	}
	// Carry forward the retry count and TTL seeded at dispatch.
	if prev, err := t.progress.Get(ctx, upd.CoordinationID, upd.BatchID); err == nil {
		row.RetryCount = prev.RetryCount
		row.ExpiresAt = prev.ExpiresAt
		if row.ItemsTotal == 0 {
			row.ItemsTotal = prev.ItemsTotal
		}
	}
	if err := t.progress.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("upsert batch progress %s: %w", upd.BatchID, err)
	}

	rows, err := t.progress.ListByCoordination(ctx, upd.CoordinationID)
	if err != nil {
		return nil, fmt.Errorf("list batch progress: %w", err)
	}

	var completed, failed, processing, itemsDone, itemsTotal, errs int
	for _, r := range rows {
		switch r.Status {
		case storage.BatchStatusCompleted:
			completed++
		case storage.BatchStatusFailed:
			failed++
		case storage.BatchStatusProcessing:
			processing++
		}
		itemsDone += r.ItemsProcessed
		itemsTotal += r.ItemsTotal
		errs += r.ErrorsCount
	}

	rec.CompletedBatches = completed
	rec.FailedBatches = failed
	rec.ProcessingBatches = processing
	rec.TotalItemsProcessed = itemsDone
	rec.TotalErrors = errs
	if itemsTotal > 0 {
		rec.ProgressPercentage = 100 * float64(itemsDone) / float64(itemsTotal)
	}

	if completed+failed >= rec.TotalBatches && rec.TotalBatches > 0 {
		if failed > 0 {
			rec.Status = storage.CoordinationStatusCompletedWithErrors
		} else {
			rec.Status = storage.CoordinationStatusCompleted
		}
		if rec.CompletedAt == nil {
			done := t.now().UTC()
			rec.CompletedAt = &done
		}
	} else {
		rec.Status = storage.CoordinationStatusProcessing
	}

	fired := t.crossThresholds(rec)

	if err := t.coordinations.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("update coordination %s: %w", upd.CoordinationID, err)
	}

	if t.metrics != nil {
		if upd.ItemsTotal > 0 {
			t.metrics.BatchCompletionPercentage.
				WithLabelValues(rec.ProcessingType, rec.CoordinationID).
				Set(100 * float64(upd.ItemsProcessed) / float64(upd.ItemsTotal))
		}
		t.metrics.OverallProgressPercentage.
			WithLabelValues(rec.ProcessingType, rec.CoordinationID).
			Set(rec.ProgressPercentage)
		if upd.ErrorsCount > 0 {
			t.metrics.ProcessingErrors.
				WithLabelValues(rec.ProcessingType).
				Add(float64(upd.ErrorsCount))
		}
	}

	for _, threshold := range fired {
		if t.metrics != nil {
			t.metrics.NotificationThresholdFired.
				WithLabelValues(strconv.Itoa(threshold)).Inc()
		}
		if err := t.notifier.Notify(ctx, rec, threshold); err != nil {
			// Notifications are best effort; the crossing stays recorded
			// so it is never re-fired.
			t.logger.WithCoordination(rec.CoordinationID).Warn().
				Err(err).
				Int("threshold", threshold).
				Msg("progress notification failed")
		}
	}

	return rec, nil
}

// crossThresholds appends newly crossed notification thresholds to the
// record and returns them.
func (t *Tracker) crossThresholds(rec *storage.CoordinationRecord) []int {
	seen := make(map[int]bool, len(rec.NotifiedThresholds))
	for _, th := range rec.NotifiedThresholds {
		seen[th] = true
	}
	var fired []int
	for _, th := range notifyThresholds {
		if rec.ProgressPercentage >= float64(th) && !seen[th] {
			rec.NotifiedThresholds = append(rec.NotifiedThresholds, th)
			fired = append(fired, th)
		}
	}
	return fired
}
