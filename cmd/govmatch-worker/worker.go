package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/batch"
	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/opportunity"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

const (
	receiveBatchSize  = 10
	idlePollInterval  = 2 * time.Second
	depthScrapePeriod = 30 * time.Second

	// maxReceives is how many deliveries a non-coordinated message gets
	// before it moves to the dead-letter queue. Coordinated match batches
	// go through the failure handler instead.
	maxReceives = 4
)

// errRequeue tells the consumer loop to leave the message on the queue so
// the visibility timeout redelivers it.
var errRequeue = errors.New("requeue for retry")

// Worker polls the four work queues and drives the processing pipelines.
type Worker struct {
	deps   *app.Dependencies
	logger *observability.Logger
	wg     sync.WaitGroup
}

// NewWorker creates a worker over an assembled dependency graph.
func NewWorker(deps *app.Dependencies) *Worker {
	return &Worker{deps: deps, logger: deps.Logger}
}

// Run starts one consumer loop per queue plus the depth gauge scraper and
// blocks until ctx is cancelled and every loop has drained.
func (w *Worker) Run(ctx context.Context) {
	consumers := map[string]func(context.Context, *queue.Message) error{
		queue.QueueOpportunityBatches: w.handleOpportunityBatch,
		queue.QueueProfileDocuments:   w.handleProfileDocument,
		queue.QueueProfileReembed:     w.handleProfileReembed,
		queue.QueueMatchPairs:         w.handleMatchBatch,
	}
	for name, handler := range consumers {
		w.wg.Add(1)
		go w.consume(ctx, name, handler)
	}
	w.wg.Add(1)
	go w.scrapeDepths(ctx)
	w.wg.Wait()
}

// consume is the shared poll loop: receive up to receiveBatchSize messages,
// run the handler under the worker timeout, and acknowledge or requeue.
func (w *Worker) consume(ctx context.Context, queueName string, handler func(context.Context, *queue.Message) error) {
	defer w.wg.Done()
	log := w.logger.With().Str("queue", queueName).Logger()
	timeout := w.deps.Config.Batch.WorkerTimeout

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.deps.Queue.Receive(ctx, queueName, receiveBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Receive failed")
			sleep(ctx, idlePollInterval)
			continue
		}
		if len(msgs) == 0 {
			sleep(ctx, idlePollInterval)
			continue
		}

		for _, msg := range msgs {
			msgCtx := ctx
			cancel := func() {}
			if timeout > 0 {
				msgCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			err := handler(msgCtx, msg)
			cancel()

			switch {
			case err == nil:
				if err := w.deps.Queue.Delete(ctx, queueName, msg); err != nil {
					log.Error().Err(err).Str("message_id", msg.ID).Msg("Delete failed")
				}
			case errors.Is(err, errRequeue):
				// Leave it; the visibility timeout redelivers.
				log.Warn().Str("message_id", msg.ID).Int("receive_count", msg.ReceiveCount).Msg("Message left for redelivery")
			default:
				w.deadLetterOrRequeue(ctx, queueName, msg, err, log)
			}
		}
	}
}

// deadLetterOrRequeue moves a repeatedly failing message to the dead-letter
// queue; earlier failures are left for redelivery.
func (w *Worker) deadLetterOrRequeue(ctx context.Context, queueName string, msg *queue.Message, cause error, log *observability.Logger) {
	if msg.ReceiveCount < maxReceives {
		log.Warn().Err(cause).Str("message_id", msg.ID).Int("receive_count", msg.ReceiveCount).Msg("Processing failed, will retry")
		return
	}
	log.Error().Err(cause).Str("message_id", msg.ID).Msg("Retries exhausted, dead-lettering")
	if err := w.deps.Queue.Send(ctx, queue.DeadLetterQueue(queueName), msg.Body); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Dead-letter send failed")
		return
	}
	if err := w.deps.Queue.Delete(ctx, queueName, msg); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Delete after dead-letter failed")
	}
}

// handleOpportunityBatch runs the ingestion pipeline for each row in an
// opportunity batch. Row-level pipeline errors are persisted on the notice
// by the processor, so a partially failed batch is still acknowledged.
func (w *Worker) handleOpportunityBatch(ctx context.Context, msg *queue.Message) error {
	var rows opportunity.RowBatch
	if err := json.Unmarshal(msg.Body, &rows); err != nil {
		return fmt.Errorf("decode row batch: %w", err)
	}
	processed, failed := 0, 0
	for i := range rows.Opportunities {
		opp := &rows.Opportunities[i]
		result, err := w.deps.OppProc.Process(ctx, opp)
		if err != nil {
			failed++
			w.logger.WithNotice(opp.NoticeID).Error().Err(err).Msg("Opportunity processing failed")
			continue
		}
		if result.Status == storage.ProcessingStatusError {
			failed++
			continue
		}
		processed++
	}
	w.logger.Info().
		Str("source", rows.Source).
		Int("processed", processed).
		Int("failed", failed).
		Msg("Opportunity batch done")
	if processed == 0 && failed > 0 {
		return fmt.Errorf("all %d rows failed", failed)
	}
	return nil
}

// handleProfileDocument runs extraction, classification, and embedding for
// one uploaded company document.
func (w *Worker) handleProfileDocument(ctx context.Context, msg *queue.Message) error {
	var doc profile.DocumentMessage
	if err := json.Unmarshal(msg.Body, &doc); err != nil {
		return fmt.Errorf("decode document message: %w", err)
	}
	result, err := w.deps.ProfileProc.ProcessDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("process document %s: %w", doc.DocumentID, err)
	}
	w.logger.WithTenant(doc.TenantID).Info().
		Str("document_id", doc.DocumentID).
		Str("category", string(result.Category)).
		Str("band", string(result.Band)).
		Msg("Document processed")
	return nil
}

// handleProfileReembed rebuilds a company's aggregate profile embedding.
func (w *Worker) handleProfileReembed(ctx context.Context, msg *queue.Message) error {
	var req profile.ReembedMessage
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return fmt.Errorf("decode reembed message: %w", err)
	}
	if err := w.deps.ProfileProc.ReembedProfile(ctx, req); err != nil {
		return fmt.Errorf("reembed company %s: %w", req.CompanyID, err)
	}
	w.logger.WithTenant(req.TenantID).Info().Str("company_id", req.CompanyID).Msg("Profile re-embedded")
	return nil
}

// handleMatchBatch scores one coordinated batch of (company, opportunity)
// pairs, reports progress, and routes batch-level failures through the
// failure handler so retries follow its backoff decision.
func (w *Worker) handleMatchBatch(ctx context.Context, msg *queue.Message) error {
	started := time.Now()
	batchMsg, err := batch.DecodeMessage(msg.Body)
	if err != nil {
		// Malformed coordination messages can never succeed.
		return err
	}
	var pairs []batch.MatchPairItem
	if err := batchMsg.Items(&pairs); err != nil {
		return w.failBatch(ctx, batchMsg, err)
	}

	log := w.logger.WithCoordination(batchMsg.CoordinationID)
	scored, errored := 0, 0
	for _, pair := range pairs {
		if err := w.scorePair(ctx, pair); err != nil {
			errored++
			log.Warn().Err(err).
				Str("company_id", pair.CompanyID).
				Str("notice_id", pair.NoticeID).
				Msg("Pair scoring failed")
			continue
		}
		scored++
	}
	if scored == 0 && errored > 0 {
		return w.failBatch(ctx, batchMsg, fmt.Errorf("all %d pairs failed", errored))
	}

	_, err = w.deps.Tracker.Record(ctx, batch.Update{
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
		return fmt.Errorf("record progress for %s: %w", batchMsg.BatchID, err)
	}
	log.Info().
		Str("batch_id", batchMsg.BatchID).
		Int("scored", scored).
		Int("errored", errored).
		Msg("Match batch done")
	return nil
}

// failBatch consults the failure handler: retried batches stay on the queue
// for the visibility timeout to redeliver, exhausted ones are acknowledged
// after the tracker marks them failed.
func (w *Worker) failBatch(ctx context.Context, batchMsg *batch.Message, cause error) error {
	decision, err := w.deps.Failures.Handle(ctx, batchMsg.CoordinationID, batchMsg.BatchID, batch.ErrorInfo{
		ErrorType:    "processing",
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		w.logger.WithCoordination(batchMsg.CoordinationID).Error().Err(err).Msg("Failure handling failed")
		return errRequeue
	}
	if decision.Retry {
		return errRequeue
	}
	return nil
}

// scorePair loads both sides of a pair and runs the orchestrator. Missing
// records count as pair errors, not batch failures.
func (w *Worker) scorePair(ctx context.Context, pair batch.MatchPairItem) error {
	opp, err := w.deps.Repos.Opportunities.GetByNoticeID(ctx, pair.NoticeID)
	if err != nil {
		return fmt.Errorf("load notice %s: %w", pair.NoticeID, err)
	}
	company, err := w.deps.Repos.Companies.GetByID(ctx, pair.TenantID, pair.CompanyID)
	if err != nil {
		return fmt.Errorf("load company %s: %w", pair.CompanyID, err)
	}
	_, err = w.deps.Matcher.Match(ctx, match.Request{
		Opportunity: opp,
		Profile:     company,
		UseCache:    true,
	})
	return err
}

// scrapeDepths exports queue depths on a fixed period.
func (w *Worker) scrapeDepths(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(depthScrapePeriod)
	defer ticker.Stop()
	queues := []string{
		queue.QueueOpportunityBatches,
		queue.QueueProfileDocuments,
		queue.QueueMatchPairs,
		queue.QueueProfileReembed,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range queues {
				depth, err := w.deps.Queue.Depth(ctx, name)
				if err != nil {
					continue
				}
				w.deps.Metrics.QueueDepth.WithLabelValues(name).Set(float64(depth))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
