package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemanticScorer_DirectSimilarity(t *testing.T) {
	score := SemanticScorer{}.Score(context.Background(), &Input{
		ProfileVec:     []float32{1, 0, 0, 0},
		OpportunityVec: []float32{1, 0, 0, 0},
	})

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, 1.0, score.Score, 1e-9)
	assert.InDelta(t, 1.0, score.Evidence["profile_similarity"].(float64), 1e-9)
	assert.Equal(t, 0, score.Evidence["chunks_compared"])
}

func TestSemanticScorer_OrthogonalVectorsScoreZero(t *testing.T) {
	score := SemanticScorer{}.Score(context.Background(), &Input{
		ProfileVec:     []float32{1, 0},
		OpportunityVec: []float32{0, 1},
	})

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, 0.0, score.Score, 1e-9)
}

func TestSemanticScorer_ChunksLiftTheScore(t *testing.T) {
	score := SemanticScorer{}.Score(context.Background(), &Input{
		ProfileVec:     []float32{1, 0},
		OpportunityVec: []float32{0, 1},
		ChunkVecs: [][]float32{
			{1, 0},       // identical to the profile
			{0, 1},       // orthogonal
			{1, 0, 0, 0}, // wrong dimension, skipped
		},
	})

	require.Equal(t, StatusOK, score.Status)
	// Direct similarity is zero; the two comparable chunks average to 0.5.
	assert.InDelta(t, 0.5, score.Score, 1e-9)
	assert.InDelta(t, 0.0, score.Evidence["profile_similarity"].(float64), 1e-9)
	assert.InDelta(t, 0.5, score.Evidence["chunk_similarity"].(float64), 1e-9)
	assert.Equal(t, 2, score.Evidence["chunks_compared"])
}

func TestSemanticScorer_TopChunksOnly(t *testing.T) {
	score := SemanticScorer{}.Score(context.Background(), &Input{
		ProfileVec:     []float32{1, 0},
		OpportunityVec: []float32{0, 1},
		ChunkVecs: [][]float32{
			{1, 0}, {1, 0}, {1, 0}, // three perfect chunks
			{0, 1}, {0, 1},         // two orthogonal ones, outside the top three
		},
	})

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, 1.0, score.Score, 1e-9)
	assert.Equal(t, 3, score.Evidence["chunks_compared"])
}

func TestSemanticScorer_MissingVectorsAreNoData(t *testing.T) {
	score := SemanticScorer{}.Score(context.Background(), &Input{
		OpportunityVec: []float32{1, 0},
	})
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "profile embedding not generated", score.Evidence["reason"])

	score = SemanticScorer{}.Score(context.Background(), &Input{
		ProfileVec: []float32{1, 0},
	})
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "opportunity embedding not generated", score.Evidence["reason"])
}
