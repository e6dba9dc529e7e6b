// Package objectstore provides blob storage behind a vendor-neutral interface.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the blob storage interface. Keys are slash-separated paths;
// writes with the same key replace in place.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Bucket names used by the match engine.
const (
	BucketRawDocuments       = "raw-documents"
	BucketProcessedDocuments = "processed-documents"
	BucketEmbeddings         = "embeddings"
	BucketTempProcessing     = "temp-processing"
)

// Buckets carries one scoped store per namespace.
type Buckets struct {
	RawDocuments       Store
	ProcessedDocuments Store
	Embeddings         Store
	TempProcessing     Store
}

// NewBuckets scopes a backing store into the four engine namespaces.
func NewBuckets(backend Store) *Buckets {
	return &Buckets{
		RawDocuments:       Scoped(backend, BucketRawDocuments),
		ProcessedDocuments: Scoped(backend, BucketProcessedDocuments),
		Embeddings:         Scoped(backend, BucketEmbeddings),
		TempProcessing:     Scoped(backend, BucketTempProcessing),
	}
}

// Close closes the shared backend once.
func (b *Buckets) Close() error {
	if sc, ok := b.RawDocuments.(*scopedStore); ok {
		return sc.backend.Close()
	}
	return b.RawDocuments.Close()
}

// scopedStore prefixes all keys with a bucket namespace.
type scopedStore struct {
	backend Store
	prefix  string
}

// Scoped returns a store view limited to the given namespace.
func Scoped(backend Store, namespace string) Store {
	return &scopedStore{backend: backend, prefix: strings.TrimSuffix(namespace, "/") + "/"}
}

func (s *scopedStore) full(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/")
}

func (s *scopedStore) Put(ctx context.Context, key string, data []byte) error {
	return s.backend.Put(ctx, s.full(key), data)
}

func (s *scopedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Get(ctx, s.full(key))
}

func (s *scopedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, s.full(key))
}

func (s *scopedStore) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.full(key))
}

func (s *scopedStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.backend.List(ctx, s.full(prefix))
	if err != nil {
		return nil, err
	}
	trimmed := make([]string, 0, len(keys))
	for _, k := range keys {
		trimmed = append(trimmed, strings.TrimPrefix(k, s.prefix))
	}
	return trimmed, nil
}

func (s *scopedStore) Close() error {
	// The backend is shared across scopes; Buckets.Close owns it.
	return nil
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

var _ Store = (*scopedStore)(nil)
