// Package vector provides similarity search over stored embeddings.
package vector

import (
	"context"
	"errors"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Adapter defines the interface for vector similarity search.
type Adapter interface {
	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int, filters Filters) ([]Result, error)

	// Upsert adds or replaces vectors in the index, keyed by Entry.Key.
	Upsert(ctx context.Context, entries []Entry) error

	// Delete removes vectors by key.
	Delete(ctx context.Context, keys []string) error

	// DeleteByEntity removes every vector belonging to an entity.
	DeleteByEntity(ctx context.Context, entityType storage.VectorEntityType, entityID string) error

	// Count returns the number of vectors in the index.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}

// Filters narrows a similarity search before distances are computed.
type Filters struct {
	EntityTypes  []storage.VectorEntityType
	TenantID     *string
	ContentTypes []string
	NAICSCodes   []string
	Agencies     []string
	States       []string
	PostedAfter  *time.Time
}

// Entry represents a vector to be indexed.
type Entry struct {
	Key         string
	EntityType  storage.VectorEntityType
	EntityID    string
	ContentType string
	TenantID    string
	NAICSCode   string
	Agency      string
	State       string
	PostedDate  *time.Time
	Vector      []float32
	Metadata    map[string]interface{}
}

// Result represents a search result. Score is 1 - cosine distance.
type Result struct {
	Key         string
	EntityType  storage.VectorEntityType
	EntityID    string
	ContentType string
	Distance    float32
	Score       float32
	Metadata    map[string]interface{}
}

// ErrDimensionMismatch indicates a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// EntryKey builds the canonical index key for an entity's embedding slot.
func EntryKey(entityType storage.VectorEntityType, entityID, contentType string) string {
	return string(entityType) + ":" + entityID + ":" + contentType
}

// matchesFilters checks if an entry matches the given filters.
func matchesFilters(entry Entry, filters Filters) bool {
	if len(filters.EntityTypes) > 0 && !containsEntityType(filters.EntityTypes, entry.EntityType) {
		return false
	}

	if filters.TenantID != nil && entry.TenantID != *filters.TenantID {
		return false
	}

	if len(filters.ContentTypes) > 0 && !containsString(filters.ContentTypes, entry.ContentType) {
		return false
	}

	if len(filters.NAICSCodes) > 0 && !containsString(filters.NAICSCodes, entry.NAICSCode) {
		return false
	}

	if len(filters.Agencies) > 0 && !containsString(filters.Agencies, entry.Agency) {
		return false
	}

	if len(filters.States) > 0 && !containsString(filters.States, entry.State) {
		return false
	}

	if filters.PostedAfter != nil {
		if entry.PostedDate == nil || entry.PostedDate.Before(*filters.PostedAfter) {
			return false
		}
	}

	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsEntityType(haystack []storage.VectorEntityType, needle storage.VectorEntityType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}
