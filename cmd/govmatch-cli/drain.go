package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/batch"
	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/opportunity"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// drainStats summarizes one local queue drain.
type drainStats struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// drainOpportunityBatches processes queued ingestion batches in-process,
// for single-node runs where no worker fleet is listening.
func drainOpportunityBatches(ctx context.Context, deps *app.Dependencies, bar *progressbar.ProgressBar) (drainStats, error) {
	var stats drainStats
	for {
		msgs, err := deps.Queue.Receive(ctx, queue.QueueOpportunityBatches, 10)
		if err != nil {
			return stats, err
		}
		if len(msgs) == 0 {
			return stats, nil
		}
		for _, msg := range msgs {
			var rows opportunity.RowBatch
			if err := json.Unmarshal(msg.Body, &rows); err != nil {
				stats.Failed++
				_ = deps.Queue.Delete(ctx, queue.QueueOpportunityBatches, msg)
				continue
			}
			for i := range rows.Opportunities {
				result, err := deps.OppProc.Process(ctx, &rows.Opportunities[i])
				if err != nil || result.Status == storage.ProcessingStatusError {
					stats.Failed++
				} else {
					stats.Processed++
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			_ = deps.Queue.Delete(ctx, queue.QueueOpportunityBatches, msg)
		}
	}
}

// drainMatchPairs scores queued coordination batches in-process and feeds
// the tracker so the coordination record completes.
func drainMatchPairs(ctx context.Context, deps *app.Dependencies, bar *progressbar.ProgressBar) (drainStats, error) {
	var stats drainStats
	for {
		msgs, err := deps.Queue.Receive(ctx, queue.QueueMatchPairs, 10)
		if err != nil {
			return stats, err
		}
		if len(msgs) == 0 {
			return stats, nil
		}
		for _, msg := range msgs {
			batchMsg, err := batch.DecodeMessage(msg.Body)
			if err != nil {
				stats.Failed++
				_ = deps.Queue.Delete(ctx, queue.QueueMatchPairs, msg)
				continue
			}
			var pairs []batch.MatchPairItem
			if err := batchMsg.Items(&pairs); err != nil {
				stats.Failed++
				_ = deps.Queue.Delete(ctx, queue.QueueMatchPairs, msg)
				continue
			}

			started := time.Now()
			scored, errored := 0, 0
			for _, pair := range pairs {
				if err := scorePair(ctx, deps, pair); err != nil {
					errored++
				} else {
					scored++
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			_, err = deps.Tracker.Record(ctx, batch.Update{
				CoordinationID: batchMsg.CoordinationID,
				BatchID:        batchMsg.BatchID,
				BatchIndex:     batchMsg.BatchIndex,
				ItemsProcessed: scored,
				ItemsTotal:     len(pairs),
				ErrorsCount:    errored,
				Duration:       time.Since(started),
				Status:         storage.BatchStatusCompleted,
			})
			if err != nil {
				logger.Warn().Err(err).Str("batch_id", batchMsg.BatchID).Msg("Progress recording failed")
			}
			stats.Processed += scored
			stats.Failed += errored
			_ = deps.Queue.Delete(ctx, queue.QueueMatchPairs, msg)
		}
	}
}

func scorePair(ctx context.Context, deps *app.Dependencies, pair batch.MatchPairItem) error {
	opp, err := deps.Repos.Opportunities.GetByNoticeID(ctx, pair.NoticeID)
	if err != nil {
		return err
	}
	company, err := deps.Repos.Companies.GetByID(ctx, pair.TenantID, pair.CompanyID)
	if err != nil {
		return err
	}
	_, err = deps.Matcher.Match(ctx, match.Request{
		Opportunity: opp,
		Profile:     company,
		UseCache:    true,
	})
	return err
}
