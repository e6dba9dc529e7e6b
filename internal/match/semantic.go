package match

import (
	"context"
	"sort"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// topChunkCount is how many attachment-chunk similarities are averaged when
// re-ranking against the direct profile-to-notice similarity.
const topChunkCount = 3

// SemanticScorer compares the company's profile embedding with the
// opportunity's main embedding. Attachment chunks can pull the score up:
// the final value is the larger of the direct similarity and the mean of
// the top three chunk similarities.
type SemanticScorer struct{}

var _ Scorer = SemanticScorer{}

// Name implements Scorer.
func (SemanticScorer) Name() string { return ComponentSemantic }

// Score implements Scorer.
func (SemanticScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	if len(in.ProfileVec) == 0 {
		return noData(started, "profile embedding not generated")
	}
	if len(in.OpportunityVec) == 0 {
		return noData(started, "opportunity embedding not generated")
	}

	direct := clamp01(cosine(in.ProfileVec, in.OpportunityVec))

	sims := make([]float64, 0, len(in.ChunkVecs))
	for _, vec := range in.ChunkVecs {
		if len(vec) != len(in.ProfileVec) {
			continue
		}
		sims = append(sims, clamp01(cosine(in.ProfileVec, vec)))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	if len(sims) > topChunkCount {
		sims = sims[:topChunkCount]
	}
	var chunkMean float64
	for _, s := range sims {
		chunkMean += s
	}
	if len(sims) > 0 {
		chunkMean /= float64(len(sims))
	}

	score := direct
	if chunkMean > score {
		score = chunkMean
	}

	return storage.ComponentScore{
		Score:  score,
		Status: StatusOK,
		Evidence: map[string]interface{}{
			"profile_similarity": round3(direct),
			"chunk_similarity":   round3(chunkMean),
			"chunks_compared":    len(sims),
		},
		ProcessingTimeMs: elapsedMs(started),
	}
}
