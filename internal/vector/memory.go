package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// MemoryAdapter implements Adapter with an in-process cosine index.
// Vectors are normalized on insert so distance reduces to 1 - dot(a, b).
type MemoryAdapter struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string]indexedVector
}

type indexedVector struct {
	entry  Entry
	vector []float32
}

// MemoryConfig holds memory adapter configuration.
type MemoryConfig struct {
	Dimension int
}

// NewMemoryAdapter creates an in-memory adapter with a fixed dimension.
func NewMemoryAdapter(cfg MemoryConfig) (*MemoryAdapter, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1024
	}

	return &MemoryAdapter{
		dimension: cfg.Dimension,
		vectors:   make(map[string]indexedVector),
	}, nil
}

// Search finds the k nearest neighbors using cosine similarity.
func (a *MemoryAdapter) Search(ctx context.Context, query []float32, k int, filters Filters) ([]Result, error) {
	if len(query) != a.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, a.dimension, len(query))
	}

	normalized := normalizeVector(query)

	a.mu.RLock()
	defer a.mu.RUnlock()

	type scored struct {
		entry    Entry
		distance float32
	}

	var results []scored
	for _, iv := range a.vectors {
		if !matchesFilters(iv.entry, filters) {
			continue
		}
		results = append(results, scored{
			entry:    iv.entry,
			distance: cosineDistance(normalized, iv.vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].distance < results[j].distance
	})

	if k > len(results) {
		k = len(results)
	}

	output := make([]Result, k)
	for i := 0; i < k; i++ {
		output[i] = Result{
			Key:         results[i].entry.Key,
			EntityType:  results[i].entry.EntityType,
			EntityID:    results[i].entry.EntityID,
			ContentType: results[i].entry.ContentType,
			Distance:    results[i].distance,
			Score:       1 - results[i].distance,
			Metadata:    results[i].entry.Metadata,
		}
	}

	return output, nil
}

// Upsert adds or replaces vectors in the index.
func (a *MemoryAdapter) Upsert(ctx context.Context, entries []Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		if len(e.Vector) != a.dimension {
			return fmt.Errorf("%w: expected %d, got %d for key %s",
				ErrDimensionMismatch, a.dimension, len(e.Vector), e.Key)
		}
		if e.Key == "" {
			e.Key = EntryKey(e.EntityType, e.EntityID, e.ContentType)
		}

		a.vectors[e.Key] = indexedVector{
			entry:  e,
			vector: normalizeVector(e.Vector),
		}
	}

	return nil
}

// Delete removes vectors by key.
func (a *MemoryAdapter) Delete(ctx context.Context, keys []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, key := range keys {
		delete(a.vectors, key)
	}

	return nil
}

// DeleteByEntity removes every vector belonging to an entity.
func (a *MemoryAdapter) DeleteByEntity(ctx context.Context, entityType storage.VectorEntityType, entityID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, iv := range a.vectors {
		if iv.entry.EntityType == entityType && iv.entry.EntityID == entityID {
			delete(a.vectors, key)
		}
	}

	return nil
}

// Count returns the number of vectors in the index.
func (a *MemoryAdapter) Count(ctx context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.vectors)), nil
}

// Close releases resources.
func (a *MemoryAdapter) Close() error {
	return nil
}

// cosineDistance computes cosine distance between two normalized vectors.
// For normalized vectors: distance = 1 - dot(a, b).
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 1.0
	}

	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}

	// Clamp for floating point error
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}

	return 1 - dot
}

// normalizeVector returns a unit vector.
func normalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, x := range v {
		normalized[i] = float32(float64(x) / norm)
	}

	return normalized
}

var _ Adapter = (*MemoryAdapter)(nil)
