package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// progressTTL bounds how long per-batch progress rows outlive their run.
const progressTTL = 7 * 24 * time.Hour

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Coordinations *storage.CoordinationRepository
	Progress      *storage.ProgressRepository
	Queue         queue.Queue
	Logger        *observability.Logger
	Now           func() time.Time
}

// Coordinator partitions work items into batches and fans them out over the
// queue under a fresh coordination record.
type Coordinator struct {
	coordinations *storage.CoordinationRepository
	progress      *storage.ProgressRepository
	queue         queue.Queue
	logger        *observability.Logger
	now           func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		coordinations: cfg.Coordinations,
		progress:      cfg.Progress,
		queue:         cfg.Queue,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// Dispatch is the outcome of a fan-out.
type Dispatch struct {
	CoordinationID string `json:"coordination_id"`
	BatchesCreated int    `json:"batches_created"`
	BatchesSent    int    `json:"batches_sent"`
	TotalItems     int    `json:"total_items"`
}

// Dispatch creates a coordination record for items, partitions them into
// batches of batchSize, and enqueues one message per batch on queueName.
// Messages go out in groups of at most queue.MaxBatchEntries per backend
// call, each deduplicated by its batch ID.
func (c *Coordinator) Dispatch(ctx context.Context, processingType, queueName string, items []json.RawMessage, batchSize int) (*Dispatch, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("dispatch %s: no items", processingType)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("dispatch %s: batch size %d", processingType, batchSize)
	}

	coordinationID := uuid.NewString()
	batches := partition(items, batchSize)
	now := c.now().UTC()

	rec := &storage.CoordinationRecord{
		CoordinationID: coordinationID,
		ProcessingType: processingType,
		Status:         storage.CoordinationStatusPending,
		TotalBatches:   len(batches),
		TotalItems:     len(items),
		StartedAt:      now,
	}
	if err := c.coordinations.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create coordination: %w", err)
	}

	log := c.logger.WithCoordination(coordinationID)
	expires := now.Add(progressTTL)

	entries := make([]queue.Entry, 0, queue.MaxBatchEntries)
	sent := 0
	flush := func() error {
		if len(entries) == 0 {
			return nil
		}
		n, err := c.queue.SendUniqueBatch(ctx, queueName, entries)
		sent += n
		entries = entries[:0]
		return err
	}

	for i, slice := range batches {
		id := batchID(coordinationID, i)
		if err := c.progress.Upsert(ctx, &storage.BatchProgressRecord{
			CoordinationID: coordinationID,
			BatchID:        id,
			BatchIndex:     i,
			ItemsTotal:     len(slice),
			Status:         storage.BatchStatusPending,
			ExpiresAt:      &expires,
		}); err != nil {
			return nil, fmt.Errorf("seed progress for batch %s: %w", id, err)
		}

		data, err := json.Marshal(slice)
		if err != nil {
			return nil, fmt.Errorf("marshal batch %s: %w", id, err)
		}
		body, err := json.Marshal(Message{
			CoordinationID: coordinationID,
			BatchID:        id,
			BatchIndex:     i,
			BatchData:      data,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal batch message %s: %w", id, err)
		}

		entries = append(entries, queue.Entry{DedupKey: id, Body: body})
		if len(entries) == queue.MaxBatchEntries {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("send batch group: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("send batch group: %w", err)
	}

	rec.Status = storage.CoordinationStatusProcessing
	if err := c.coordinations.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("mark coordination processing: %w", err)
	}

	log.Info().
		Str("processing_type", processingType).
		Str("queue", queueName).
		Int("total_items", len(items)).
		Int("batch_size", batchSize).
		Int("batches_created", len(batches)).
		Int("batches_sent", sent).
		Msg("coordination dispatched")

	return &Dispatch{
		CoordinationID: coordinationID,
		BatchesCreated: len(batches),
		BatchesSent:    sent,
		TotalItems:     len(items),
	}, nil
}
