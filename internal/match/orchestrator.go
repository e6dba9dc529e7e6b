package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/govmatch-ai/govmatch/internal/embedding"
	"github.com/govmatch-ai/govmatch/internal/metrics"
	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/opportunity"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

const (
	defaultMaxWorkers       = 8
	defaultComponentTimeout = 30 * time.Second

	// weightSumTolerance is how far the weight sum may drift from 1.0
	// before the total is renormalized.
	weightSumTolerance = 0.01

	// maxComponentFailures is how many components may fail before the
	// result is flagged as partial and capped at LOW confidence.
	maxComponentFailures = 2

	// maxChunkVectors caps how many attachment-chunk embeddings are
	// fetched per match.
	maxChunkVectors = 32
)

// ConfigSource resolves the effective weight configuration for a tenant.
type ConfigSource interface {
	Effective(ctx context.Context, tenantID string) (*storage.WeightConfig, error)
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Matches          *storage.MatchRepository
	Cache            *storage.MatchCacheRepository
	Config           ConfigSource
	Scorers          []Scorer
	Embeddings       objectstore.Store
	MaxWorkers       int
	ComponentTimeout time.Duration
	Metrics          *metrics.Registry
	Logger           *observability.Logger
	Now              func() time.Time
}

// Orchestrator computes, persists, and caches match results.
type Orchestrator struct {
	matches          *storage.MatchRepository
	cache            *storage.MatchCacheRepository
	config           ConfigSource
	scorers          []Scorer
	embeddings       objectstore.Store
	filter           QuickFilter
	maxWorkers       int
	componentTimeout time.Duration
	metrics          *metrics.Registry
	logger           *observability.Logger
	now              func() time.Time
}

// NewOrchestrator creates an orchestrator. Scorers default to
// DefaultScorers(nil) and the worker pool is capped at eight.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxWorkers <= 0 || cfg.MaxWorkers > defaultMaxWorkers {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.ComponentTimeout <= 0 {
		cfg.ComponentTimeout = defaultComponentTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Scorers) == 0 {
		cfg.Scorers = DefaultScorers(nil)
	}
	return &Orchestrator{
		matches:          cfg.Matches,
		cache:            cfg.Cache,
		config:           cfg.Config,
		scorers:          cfg.Scorers,
		embeddings:       cfg.Embeddings,
		maxWorkers:       cfg.MaxWorkers,
		componentTimeout: cfg.ComponentTimeout,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		now:              cfg.Now,
	}
}

// DefaultScorers builds the standard eight-component set. The embedder is
// optional and only used for past-performance domain similarity.
func DefaultScorers(embedder embedding.Embedder) []Scorer {
	return []Scorer{
		SemanticScorer{},
		KeywordScorer{},
		NAICSScorer{},
		NewPastPerformanceScorer(embedder),
		CertificationScorer{},
		GeographicScorer{},
		CapacityScorer{},
		RecencyScorer{},
	}
}

// Request is one match computation.
type Request struct {
	Opportunity     *storage.Opportunity
	Profile         *storage.CompanyProfile
	UseCache        bool
	WeightOverrides map[string]float64
}

// Match scores one (opportunity, profile) pair, persists the result, and
// caches it under a content fingerprint.
func (o *Orchestrator) Match(ctx context.Context, req Request) (*storage.MatchResult, error) {
	if req.Opportunity == nil || req.Profile == nil {
		return nil, errors.New("match: opportunity and profile are required")
	}
	started := time.Now()
	log := o.logger.WithCompany(req.Profile.CompanyID).WithNotice(req.Opportunity.NoticeID)

	cfg := o.effectiveConfig(ctx, req.Profile.TenantID)
	weights := effectiveWeights(cfg.Weights, req.WeightOverrides)
	key := Fingerprint(req.Opportunity, req.Profile, weights)

	// Step 1: serve from cache when content and configuration are
	// unchanged.
	if req.UseCache && o.cache != nil {
		if cached, ok := o.fromCache(ctx, key, log); ok {
			return cached, nil
		}
	}

	// Step 2: quick compatibility screen. Rejected pairs are persisted as
	// zero-score results so negatives stay visible.
	verdict := o.filter.Evaluate(req.Opportunity, req.Profile)
	if !verdict.IsPotentialMatch {
		result := screenedOutResult(req, verdict, started)
		if err := o.matches.Upsert(ctx, result); err != nil {
			return nil, fmt.Errorf("persist screened match: %w", err)
		}
		if o.metrics != nil {
			o.metrics.QuickFilterDrops.Inc()
			o.metrics.MatchesScored.WithLabelValues(string(result.Confidence)).Inc()
		}
		log.Info().Interface("filter_details", verdict.Details).Msg("Pair screened out before scoring")
		return result, nil
	}

	// Step 3: resolve texts and embeddings once; scorers share the input.
	in := o.buildInput(ctx, req)

	// Step 4: fan out the components.
	scores := o.runScorers(ctx, in)

	// Step 5: weighted total, renormalized if the weights do not sum to 1.
	total := weightedTotal(scores, weights)

	// Step 6: confidence band, downshifted when components disagree.
	confidence := deriveConfidence(total, scores, cfg)

	reasons := matchReasons(scores)
	failures := countFailures(scores)
	if failures > maxComponentFailures {
		confidence = capAtLow(confidence)
		reasons = append(reasons, PartialScoringReason)
	}

	result := &storage.MatchResult{
		CompanyID:        req.Profile.CompanyID,
		OpportunityID:    req.Opportunity.NoticeID,
		TotalScore:       total,
		Confidence:       confidence,
		ComponentScores:  scores,
		MatchReasons:     reasons,
		Recommendations:  recommendations(scores, confidence),
		ActionItems:      actionItems(scores, req.Opportunity, in.Now),
		ProcessingTimeMs: elapsedMs(started),
	}

	// Step 7: persist, then cache.
	if err := o.matches.Upsert(ctx, result); err != nil {
		return nil, fmt.Errorf("persist match: %w", err)
	}
	o.writeCache(ctx, key, result, cfg, log)

	if o.metrics != nil {
		o.metrics.MatchesScored.WithLabelValues(string(confidence)).Inc()
	}
	log.Info().
		Float64("total_score", round3(total)).
		Str("confidence", string(confidence)).
		Int("failed_components", failures).
		Int64("duration_ms", result.ProcessingTimeMs).
		Msg("Match scored")
	return result, nil
}

// effectiveConfig resolves tenant configuration, falling back to the
// built-in defaults when no source is wired or resolution fails.
func (o *Orchestrator) effectiveConfig(ctx context.Context, tenantID string) *storage.WeightConfig {
	if o.config == nil {
		return DefaultConfig()
	}
	cfg, err := o.config.Effective(ctx, tenantID)
	if err != nil || cfg == nil {
		if err != nil {
			o.logger.WithTenant(tenantID).Warn().Err(err).Msg("Weight config resolution failed; using defaults")
		}
		return DefaultConfig()
	}
	return cfg
}

// effectiveWeights overlays per-request overrides on the configured map.
func effectiveWeights(configured, overrides map[string]float64) map[string]float64 {
	if len(overrides) == 0 {
		return configured
	}
	merged := make(map[string]float64, len(configured))
	for name, w := range configured {
		merged[name] = w
	}
	for name, w := range overrides {
		merged[name] = w
	}
	return merged
}

func (o *Orchestrator) fromCache(ctx context.Context, key string, log *observability.Logger) (*storage.MatchResult, bool) {
	payload, err := o.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("Match cache read failed")
		}
		if o.metrics != nil {
			o.metrics.MatchCacheMisses.Inc()
		}
		return nil, false
	}
	var cached storage.MatchResult
	if err := json.Unmarshal(payload, &cached); err != nil {
		log.Warn().Err(err).Msg("Match cache payload corrupt; recomputing")
		if o.metrics != nil {
			o.metrics.MatchCacheMisses.Inc()
		}
		return nil, false
	}
	cached.Cached = true
	if o.metrics != nil {
		o.metrics.MatchCacheHits.Inc()
	}
	return &cached, true
}

func (o *Orchestrator) writeCache(ctx context.Context, key string, result *storage.MatchResult, cfg *storage.WeightConfig, log *observability.Logger) {
	if o.cache == nil || cfg.AlgorithmParams.CacheTTLHours <= 0 {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Msg("Match result not cacheable")
		return
	}
	ttl := time.Duration(cfg.AlgorithmParams.CacheTTLHours) * time.Hour
	if err := o.cache.Put(ctx, key, payload, ttl); err != nil {
		log.Warn().Err(err).Msg("Match cache write failed")
	}
}

// buildInput composes the shared scorer input: text views of both sides
// plus whatever embeddings have been generated for them.
func (o *Orchestrator) buildInput(ctx context.Context, req Request) *Input {
	in := &Input{
		Opportunity: req.Opportunity,
		Profile:     req.Profile,
		ProfileText: profile.ProfileText(req.Profile),
		Now:         o.now().UTC(),
	}
	for _, seg := range opportunity.Segments(req.Opportunity) {
		if seg.Name == opportunity.SegmentMain {
			in.OpportunityText = seg.Text
			break
		}
	}
	if o.embeddings == nil {
		return in
	}
	if meta := req.Opportunity.EmbeddingMetadata; meta != nil {
		if key := meta.SegmentKeys[opportunity.SegmentMain]; key != "" {
			in.OpportunityVec = o.loadVector(ctx, key)
		}
		for _, key := range meta.ChunkKeys {
			if len(in.ChunkVecs) >= maxChunkVectors {
				break
			}
			if vec := o.loadVector(ctx, key); vec != nil {
				in.ChunkVecs = append(in.ChunkVecs, vec)
			}
		}
	}
	if meta := req.Profile.EmbeddingMetadata; meta != nil && meta.SummaryKey != "" {
		in.ProfileVec = o.loadVector(ctx, meta.SummaryKey)
	}
	return in
}

func (o *Orchestrator) loadVector(ctx context.Context, key string) []float32 {
	data, err := o.embeddings.Get(ctx, key)
	if err != nil {
		return nil
	}
	var record storage.EmbeddingRecord
	if err := json.Unmarshal(data, &record); err != nil || len(record.Vector) == 0 {
		return nil
	}
	return record.Vector
}

// runScorers fans the components out over a bounded worker pool and
// collects their scores by name.
func (o *Orchestrator) runScorers(ctx context.Context, in *Input) map[string]storage.ComponentScore {
	jobs := make(chan Scorer, len(o.scorers))
	results := make(map[string]storage.ComponentScore, len(o.scorers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := o.maxWorkers
	if workers > len(o.scorers) {
		workers = len(o.scorers)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for scorer := range jobs {
				score := o.runOne(ctx, scorer, in)
				mu.Lock()
				results[scorer.Name()] = score
				mu.Unlock()
			}
		}()
	}
	for _, s := range o.scorers {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
	return results
}

// runOne applies the per-component timeout and converts panics and
// overruns into error scores so one component cannot sink the match.
func (o *Orchestrator) runOne(ctx context.Context, scorer Scorer, in *Input) storage.ComponentScore {
	callCtx, cancel := context.WithTimeout(ctx, o.componentTimeout)
	defer cancel()

	started := time.Now()
	done := make(chan storage.ComponentScore, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- storage.ComponentScore{
					Status:           StatusError,
					Evidence:         map[string]interface{}{"error": fmt.Sprint(r)},
					ProcessingTimeMs: elapsedMs(started),
				}
			}
		}()
		done <- scorer.Score(callCtx, in)
	}()

	var score storage.ComponentScore
	select {
	case score = <-done:
	case <-callCtx.Done():
		o.logger.Warn().
			Str("component", scorer.Name()).
			Dur("timeout", o.componentTimeout).
			Msg("Scoring component timed out")
		score = storage.ComponentScore{
			Status:           StatusError,
			Evidence:         map[string]interface{}{"error": "component timed out"},
			ProcessingTimeMs: elapsedMs(started),
		}
	}

	if o.metrics != nil {
		o.metrics.ComponentDuration.WithLabelValues(scorer.Name()).Observe(time.Since(started).Seconds())
		if score.Status != StatusOK {
			o.metrics.ComponentFailures.WithLabelValues(scorer.Name(), score.Status).Inc()
		}
	}
	return score
}

// weightedTotal applies the configured weights; failed components
// contribute zero but their weight still counts toward the sum.
func weightedTotal(scores map[string]storage.ComponentScore, weights map[string]float64) float64 {
	var total, sum float64
	for name, w := range weights {
		if w <= 0 {
			continue
		}
		sum += w
		if s, ok := scores[name]; ok && s.Status == StatusOK {
			total += w * s.Score
		}
	}
	if sum == 0 {
		return 0
	}
	if math.Abs(sum-1) > weightSumTolerance {
		total /= sum
	}
	return clamp01(total)
}

// deriveConfidence bands the total, then drops one band when the
// successful components disagree too widely for the mean to be trusted.
func deriveConfidence(total float64, scores map[string]storage.ComponentScore, cfg *storage.WeightConfig) storage.ConfidenceLevel {
	levels := cfg.ConfidenceLevels
	var band storage.ConfidenceLevel
	switch {
	case total >= levels.High:
		band = storage.ConfidenceHigh
	case total >= levels.Medium:
		band = storage.ConfidenceMedium
	case total >= levels.Low:
		band = storage.ConfidenceLow
	default:
		band = storage.ConfidenceNoMatch
	}

	threshold := cfg.AlgorithmParams.ScoreConsistencyThreshold
	if threshold <= 0 {
		threshold = DefaultConfig().AlgorithmParams.ScoreConsistencyThreshold
	}
	if coefficientOfVariation(scores) > threshold {
		band = downshift(band)
	}
	return band
}

// coefficientOfVariation measures spread across the components that
// produced a score; failed components are excluded so a missing signal is
// not double-counted against the match.
func coefficientOfVariation(scores map[string]storage.ComponentScore) float64 {
	var vals []float64
	for _, s := range scores {
		if s.Status == StatusOK {
			vals = append(vals, s.Score)
		}
	}
	if len(vals) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if mean <= 0 {
		return 0
	}
	var variance float64
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))
	return math.Sqrt(variance) / mean
}

func downshift(band storage.ConfidenceLevel) storage.ConfidenceLevel {
	switch band {
	case storage.ConfidenceHigh:
		return storage.ConfidenceMedium
	case storage.ConfidenceMedium:
		return storage.ConfidenceLow
	default:
		return band
	}
}

func capAtLow(band storage.ConfidenceLevel) storage.ConfidenceLevel {
	if band == storage.ConfidenceHigh || band == storage.ConfidenceMedium {
		return storage.ConfidenceLow
	}
	return band
}

func countFailures(scores map[string]storage.ComponentScore) int {
	failures := 0
	for _, s := range scores {
		if s.Status != StatusOK {
			failures++
		}
	}
	return failures
}

// screenedOutResult is the persisted record for a pair the quick filter
// rejected.
func screenedOutResult(req Request, verdict FilterResult, started time.Time) *storage.MatchResult {
	nonMatch := []string{ScreenedOutReason}
	details := verdict.Details
	if details.Archived {
		nonMatch = append(nonMatch, "opportunity is archived")
	}
	if !details.NAICSFamilyMatch {
		nonMatch = append(nonMatch, "no shared NAICS sector")
	}
	if !details.SetAsideEligible {
		nonMatch = append(nonMatch, "set-aside eligibility not met")
	}
	return &storage.MatchResult{
		CompanyID:        req.Profile.CompanyID,
		OpportunityID:    req.Opportunity.NoticeID,
		TotalScore:       0,
		Confidence:       storage.ConfidenceNoMatch,
		ComponentScores:  map[string]storage.ComponentScore{},
		NonMatchReasons:  nonMatch,
		Recommendations:  []string{bandRecommendations[storage.ConfidenceNoMatch]},
		ProcessingTimeMs: elapsedMs(started),
	}
}
