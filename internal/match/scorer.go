// Package match scores company profiles against contracting opportunities.
//
// A match runs a cheap quick filter first, then fans out eight independent
// scoring components whose weighted sum becomes the total score. Components
// share one Input resolved up front and never touch storage themselves.
package match

import (
	"context"
	"math"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Component names key the weight configuration and the per-component score
// map persisted on every match.
const (
	ComponentSemantic        = "semantic_similarity"
	ComponentKeyword         = "keyword_match"
	ComponentNAICS           = "naics_alignment"
	ComponentPastPerformance = "past_performance"
	ComponentCertification   = "certification_bonus"
	ComponentGeographic      = "geographic_match"
	ComponentCapacity        = "capacity_fit"
	ComponentRecency         = "recency_factor"
)

// ComponentNames lists every scoring component in presentation order.
// Narrative output iterates this slice so explanations stay stable.
var ComponentNames = []string{
	ComponentSemantic,
	ComponentKeyword,
	ComponentNAICS,
	ComponentPastPerformance,
	ComponentCertification,
	ComponentGeographic,
	ComponentCapacity,
	ComponentRecency,
}

// Component score statuses.
const (
	StatusOK     = "ok"
	StatusError  = "error"
	StatusNoData = "no_data"
)

// Input carries one (opportunity, profile) pair plus the texts and
// embeddings resolved for it. The orchestrator builds it once per match.
type Input struct {
	Opportunity     *storage.Opportunity
	Profile         *storage.CompanyProfile
	OpportunityText string
	ProfileText     string
	OpportunityVec  []float32
	ProfileVec      []float32
	ChunkVecs       [][]float32
	Now             time.Time
}

// Scorer is one matching signal. Implementations return a zero score with
// status error or no_data instead of failing the whole match.
type Scorer interface {
	Name() string
	Score(ctx context.Context, in *Input) storage.ComponentScore
}

// DefaultWeights is the built-in component weighting. The eight values sum
// to exactly 1.0.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		ComponentSemantic:        0.25,
		ComponentKeyword:         0.15,
		ComponentNAICS:           0.20,
		ComponentPastPerformance: 0.15,
		ComponentCertification:   0.10,
		ComponentGeographic:      0.05,
		ComponentCapacity:        0.05,
		ComponentRecency:         0.05,
	}
}

// DefaultConfig is the configuration used when neither a tenant nor a
// global override exists.
func DefaultConfig() *storage.WeightConfig {
	return &storage.WeightConfig{
		ConfigKey: "global",
		Weights:   DefaultWeights(),
		ConfidenceLevels: storage.ConfidenceLevels{
			High:   0.75,
			Medium: 0.50,
			Low:    0.25,
		},
		AlgorithmParams: storage.AlgorithmParams{
			CacheTTLHours:               24,
			MinScoreThreshold:           0,
			MaxConcurrentMatches:        100,
			SemanticSimilarityThreshold: 0.7,
			ScoreConsistencyThreshold:   0.5,
		},
		Version:   1,
		UpdatedBy: "system",
	}
}

// noData builds the uniform score returned when a component has nothing to
// work with.
func noData(started time.Time, reason string) storage.ComponentScore {
	return storage.ComponentScore{
		Score:            0,
		Status:           StatusNoData,
		Evidence:         map[string]interface{}{"reason": reason},
		ProcessingTimeMs: elapsedMs(started),
	}
}

func elapsedMs(started time.Time) int64 {
	ms := time.Since(started).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// cosine computes cosine similarity without assuming unit vectors.
// Mismatched or empty vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// logScaleFit maps the ratio between two dollar figures onto [0,1]: equal
// figures score 1 and two orders of magnitude apart scores 0.
func logScaleFit(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	dev := math.Abs(math.Log10(a / b))
	return clamp01(1 - dev/2)
}

// awardIndicator returns the dollar figure used to judge opportunity size:
// the award amount when present, otherwise a per-department norm.
func awardIndicator(opp *storage.Opportunity) (float64, string) {
	if opp.Award != nil && opp.Award.Amount.IsPositive() {
		return opp.Award.Amount.InexactFloat64(), "award_amount"
	}
	if norm, ok := agencyAwardNorms[normalizeAgencyName(opp.Department)]; ok {
		return norm, "agency_norm"
	}
	return defaultAwardNorm, "default_norm"
}
