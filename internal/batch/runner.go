package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// TargetNightlyMatch is the schedule-manager target name for the nightly
// match-scoring run.
const TargetNightlyMatch = "nightly-match"

const (
	defaultPollInterval = 15 * time.Second

	// snapshotLookback bounds how far back the optimizer looks for a
	// finished run of the same processing type.
	snapshotLookback = 48 * time.Hour

	// nightlyOpportunityLimit caps how many active opportunities one
	// nightly run pairs against company profiles.
	nightlyOpportunityLimit = 10000
)

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Optimizer     *Optimizer
	Coordinator   *Coordinator
	Coordinations *storage.CoordinationRepository
	Progress      *storage.ProgressRepository
	Opportunities *storage.OpportunityRepository
	Companies     *storage.CompanyRepository
	Logger        *observability.Logger
	Batch         config.BatchConfig
	PollInterval  time.Duration
	Now           func() time.Time
}

// Runner drives the nightly match-scoring run: optimize the batch size from
// the previous run, pair active opportunities with company profiles, fan the
// pairs out through the coordinator, and wait for the coordination to reach
// a terminal status.
type Runner struct {
	optimizer     *Optimizer
	coordinator   *Coordinator
	coordinations *storage.CoordinationRepository
	progress      *storage.ProgressRepository
	opportunities *storage.OpportunityRepository
	companies     *storage.CompanyRepository
	logger        *observability.Logger
	batch         config.BatchConfig
	pollInterval  time.Duration
	now           func() time.Time
}

// NewRunner creates a nightly runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		optimizer:     cfg.Optimizer,
		coordinator:   cfg.Coordinator,
		coordinations: cfg.Coordinations,
		progress:      cfg.Progress,
		opportunities: cfg.Opportunities,
		companies:     cfg.Companies,
		logger:        cfg.Logger,
		batch:         cfg.Batch,
		pollInterval:  cfg.PollInterval,
		now:           cfg.Now,
	}
}

// RunResult summarizes one nightly run.
type RunResult struct {
	CoordinationID string                     `json:"coordination_id"`
	Status         storage.CoordinationStatus `json:"status"`
	BatchSize      int                        `json:"batch_size"`
	MaxConcurrency int                        `json:"max_concurrency"`
	TotalItems     int                        `json:"total_items"`
	TotalBatches   int                        `json:"total_batches"`
	FailedBatches  int                        `json:"failed_batches"`
	Duration       time.Duration              `json:"duration"`
}

// RunNightly runs the full sequence under the configured run timeout.
func (r *Runner) RunNightly(ctx context.Context) (*RunResult, error) {
	if r.batch.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.batch.RunTimeout)
		defer cancel()
	}
	started := r.now()

	dispatch, size, concurrency, err := r.start(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := r.Await(ctx, dispatch.CoordinationID)
	if err != nil {
		return nil, err
	}

	r.finalize(ctx, rec)
	return &RunResult{
		CoordinationID: rec.CoordinationID,
		Status:         rec.Status,
		BatchSize:      size,
		MaxConcurrency: concurrency,
		TotalItems:     rec.TotalItems,
		TotalBatches:   rec.TotalBatches,
		FailedBatches:  rec.FailedBatches,
		Duration:       r.now().Sub(started),
	}, nil
}

// Target adapts the runner for the schedule manager: it dispatches the run
// synchronously, returns the coordination ID as the execution handle, and
// finishes waiting in the background.
func (r *Runner) Target() TargetFunc {
	return func(ctx context.Context, _ json.RawMessage) (string, error) {
		dispatch, _, _, err := r.start(ctx)
		if err != nil {
			return "", err
		}
		go func() {
			awaitCtx := context.Background()
			if r.batch.RunTimeout > 0 {
				var cancel context.CancelFunc
				awaitCtx, cancel = context.WithTimeout(awaitCtx, r.batch.RunTimeout)
				defer cancel()
			}
			rec, err := r.Await(awaitCtx, dispatch.CoordinationID)
			if err != nil {
				r.logger.WithCoordination(dispatch.CoordinationID).Error().
					Err(err).
					Msg("nightly run did not finish")
				return
			}
			r.finalize(awaitCtx, rec)
		}()
		return dispatch.CoordinationID, nil
	}
}

// start optimizes the batch size and dispatches the pairing fan-out.
func (r *Runner) start(ctx context.Context) (*Dispatch, int, int, error) {
	current, perf, err := r.previousRun(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	size, concurrency := r.optimizer.Optimize(ProcessingTypeMatchScoring, r.batch.TargetLatency, current, perf)

	items, err := r.pairItems(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(items) == 0 {
		return nil, 0, 0, fmt.Errorf("nightly run: no opportunity/company pairs to score")
	}

	dispatch, err := r.coordinator.Dispatch(ctx, ProcessingTypeMatchScoring, queue.QueueMatchPairs, items, size)
	if err != nil {
		return nil, 0, 0, err
	}
	return dispatch, size, concurrency.MaxConcurrency, nil
}

// previousRun recovers the batch size and performance snapshot of the most
// recent finished run of the same processing type.
func (r *Runner) previousRun(ctx context.Context) (int, Snapshot, error) {
	recs, err := r.coordinations.ListActiveSince(ctx, r.now().UTC().Add(-snapshotLookback))
	if err != nil {
		return 0, Snapshot{}, fmt.Errorf("list recent coordinations: %w", err)
	}
	for _, rec := range recs {
		if rec.ProcessingType != ProcessingTypeMatchScoring || rec.CompletedAt == nil {
			continue
		}
		rows, err := r.progress.ListByCoordination(ctx, rec.CoordinationID)
		if err != nil {
			return 0, Snapshot{}, fmt.Errorf("list previous progress: %w", err)
		}
		size := r.batch.DefaultBatchSize
		if rec.TotalBatches > 0 {
			size = (rec.TotalItems + rec.TotalBatches - 1) / rec.TotalBatches
		}
		return size, SnapshotFromRecords(rows), nil
	}
	return r.batch.DefaultBatchSize, Snapshot{}, nil
}

// pairItems builds the (opportunity, company) cross product for scoring.
func (r *Runner) pairItems(ctx context.Context) ([]json.RawMessage, error) {
	opportunities, err := r.opportunities.ListActive(ctx, nightlyOpportunityLimit)
	if err != nil {
		return nil, fmt.Errorf("list active opportunities: %w", err)
	}
	companies, err := r.companies.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}

	items := make([]json.RawMessage, 0, len(opportunities)*len(companies))
	for _, company := range companies {
		for _, opp := range opportunities {
			item, err := json.Marshal(MatchPairItem{
				TenantID:  company.TenantID,
				CompanyID: company.CompanyID,
				NoticeID:  opp.NoticeID,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal pair item: %w", err)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// Await polls until the coordination reaches a terminal status or the
// context expires.
func (r *Runner) Await(ctx context.Context, coordinationID string) (*storage.CoordinationRecord, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		rec, err := r.coordinations.GetByID(ctx, coordinationID)
		if err != nil {
			return nil, fmt.Errorf("poll coordination %s: %w", coordinationID, err)
		}
		switch rec.Status {
		case storage.CoordinationStatusCompleted,
			storage.CoordinationStatusCompletedWithErrors,
			storage.CoordinationStatusFailed:
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await coordination %s: %w", coordinationID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// finalize purges expired progress rows and reports the outcome.
func (r *Runner) finalize(ctx context.Context, rec *storage.CoordinationRecord) {
	purged, err := r.progress.PurgeExpired(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("purge expired progress rows")
	}
	r.logger.WithCoordination(rec.CoordinationID).Info().
		Str("status", string(rec.Status)).
		Int("total_items", rec.TotalItems).
		Int("total_batches", rec.TotalBatches).
		Int("failed_batches", rec.FailedBatches).
		Int("total_errors", rec.TotalErrors).
		Int64("progress_rows_purged", purged).
		Msg("nightly run finished")
}
