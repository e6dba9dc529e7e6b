package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/govmatch-ai/govmatch/internal/metrics"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

const (
	maxBatchRetries        = 3
	initialRetryBackoff    = 30 * time.Second
	retryBackoffMultiplier = 2.0
)

// ErrorInfo describes one batch failure.
type ErrorInfo struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// Decision is the failure handler's verdict for a failed batch.
type Decision struct {
	Retry      bool
	RetryCount int
	Backoff    time.Duration
}

// FailureHandlerConfig wires a FailureHandler.
type FailureHandlerConfig struct {
	Progress *storage.ProgressRepository
	Tracker  *Tracker
	Metrics  *metrics.Registry
	Logger   *observability.Logger
}

// FailureHandler decides whether a failed batch is retried or marked failed.
// Retried batches are left on the queue so the visibility timeout redelivers
// them; the returned backoff is how long the worker should keep the message
// invisible before the next attempt.
type FailureHandler struct {
	progress *storage.ProgressRepository
	tracker  *Tracker
	metrics  *metrics.Registry
	logger   *observability.Logger
}

// NewFailureHandler creates a failure handler.
func NewFailureHandler(cfg FailureHandlerConfig) *FailureHandler {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &FailureHandler{
		progress: cfg.Progress,
		tracker:  cfg.Tracker,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Handle records the failure and returns the retry decision. Up to three
// attempts get exponential backoff; after that the batch is marked failed
// through the tracker so the coordination counters move.
func (h *FailureHandler) Handle(ctx context.Context, coordinationID, batchID string, info ErrorInfo) (*Decision, error) {
	rec, err := h.tracker.coordinations.GetByID(ctx, coordinationID)
	if err != nil {
		return nil, fmt.Errorf("load coordination %s: %w", coordinationID, err)
	}

	row, err := h.progress.Get(ctx, coordinationID, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch progress %s: %w", batchID, err)
	}

	log := h.logger.WithCoordination(coordinationID)

	if row.RetryCount < maxBatchRetries {
		row.RetryCount++
		msg := info.ErrorMessage
		row.LastError = &msg
		row.Status = storage.BatchStatusPending
		if err := h.progress.Upsert(ctx, row); err != nil {
			return nil, fmt.Errorf("record batch retry %s: %w", batchID, err)
		}
		if h.metrics != nil {
			h.metrics.BatchRetries.WithLabelValues(rec.ProcessingType).Inc()
		}

		backoff := initialRetryBackoff
		for i := 1; i < row.RetryCount; i++ {
			backoff = time.Duration(float64(backoff) * retryBackoffMultiplier)
		}
		log.Warn().
			Str("batch_id", batchID).
			Str("error_type", info.ErrorType).
			Str("error_message", info.ErrorMessage).
			Int("retry_count", row.RetryCount).
			Dur("backoff", backoff).
			Msg("batch failed, scheduling retry")
		return &Decision{Retry: true, RetryCount: row.RetryCount, Backoff: backoff}, nil
	}

	// Retries exhausted: fold the failure into the coordination aggregate.
	if _, err := h.tracker.Record(ctx, Update{
		CoordinationID: coordinationID,
		BatchID:        batchID,
		BatchIndex:     row.BatchIndex,
		ItemsProcessed: row.ItemsProcessed,
		ItemsTotal:     row.ItemsTotal,
		ErrorsCount:    row.ItemsTotal - row.ItemsProcessed,
		Status:         storage.BatchStatusFailed,
		LastError:      info.ErrorMessage,
	}); err != nil {
		return nil, fmt.Errorf("mark batch failed %s: %w", batchID, err)
	}

	log.Error().
		Str("batch_id", batchID).
		Str("error_type", info.ErrorType).
		Str("error_message", info.ErrorMessage).
		Int("retry_count", row.RetryCount).
		Msg("batch failed permanently")
	return &Decision{Retry: false, RetryCount: row.RetryCount}, nil
}
