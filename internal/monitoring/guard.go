package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Validation errors for stored embeddings.
var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNotNormalized     = errors.New("embedding is not unit-normalized")
)

const (
	// normTolerance is the allowed deviation of a vector's L2 norm from 1.
	normTolerance = 0.05

	defaultScanLimit = 10000
)

// GuardConfig wires an EmbeddingGuard.
type GuardConfig struct {
	VectorIndex *storage.VectorIndexRepository
	Embeddings  objectstore.Store
	Queue       queue.Queue
	Logger      *observability.Logger
	ModelID     string
	Dimension   int
	ScanLimit   int
}

// EmbeddingGuard validates stored profile embeddings against the configured
// model and dimension, queueing re-embeds for stale or corrupt vectors.
type EmbeddingGuard struct {
	vectorIndex *storage.VectorIndexRepository
	embeddings  objectstore.Store
	queue       queue.Queue
	logger      *observability.Logger
	modelID     string
	dimension   int
	scanLimit   int
}

// NewEmbeddingGuard creates an embedding guard.
func NewEmbeddingGuard(cfg GuardConfig) *EmbeddingGuard {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultScanLimit
	}
	return &EmbeddingGuard{
		vectorIndex: cfg.VectorIndex,
		embeddings:  cfg.Embeddings,
		queue:       cfg.Queue,
		logger:      cfg.Logger,
		modelID:     cfg.ModelID,
		dimension:   cfg.Dimension,
		scanLimit:   cfg.ScanLimit,
	}
}

// Validate checks a vector's dimension and L2 norm.
func (g *EmbeddingGuard) Validate(vec []float32) error {
	if len(vec) != g.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), g.dimension)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) > normTolerance {
		return fmt.Errorf("%w: norm %.4f", ErrNotNormalized, norm)
	}
	return nil
}

// ScanReport summarizes one profile-embedding scan.
type ScanReport struct {
	Scanned int `json:"scanned"`
	Missing int `json:"missing"`
	Stale   int `json:"stale"`
	Invalid int `json:"invalid"`
	Queued  int `json:"queued"`
}

// ScanProfiles walks every company-profile embedding, checks the stored
// vector against the configured model and dimension, and queues one
// re-embed per affected company. Queue dedup keeps repeated scans from
// stacking duplicate work.
func (g *EmbeddingGuard) ScanProfiles(ctx context.Context) (*ScanReport, error) {
	entries, err := g.vectorIndex.ListByType(ctx, storage.VectorEntityCompanyProfile, g.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("list profile embeddings: %w", err)
	}

	report := &ScanReport{}
	for _, entry := range entries {
		report.Scanned++

		reason, err := g.check(ctx, entry, report)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			continue
		}

		queued, err := g.queueReembed(ctx, entry)
		if err != nil {
			return nil, err
		}
		if queued {
			report.Queued++
		}
		g.logger.WithTenant(entry.TenantID).WithCompany(entry.EntityID).Warn().
			Str("embedding_uri", entry.EmbeddingURI).
			Str("reason", reason).
			Bool("queued", queued).
			Msg("profile embedding needs regeneration")
	}

	g.logger.Info().
		Int("scanned", report.Scanned).
		Int("missing", report.Missing).
		Int("stale", report.Stale).
		Int("invalid", report.Invalid).
		Int("queued", report.Queued).
		Msg("profile embedding scan finished")
	return report, nil
}

// check classifies one index entry, bumping the matching report counter.
func (g *EmbeddingGuard) check(ctx context.Context, entry *storage.VectorIndexEntry, report *ScanReport) (string, error) {
	blob, err := g.embeddings.Get(ctx, entry.EmbeddingURI)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			report.Missing++
			return "blob missing", nil
		}
		return "", fmt.Errorf("load embedding %s: %w", entry.EmbeddingURI, err)
	}

	var rec storage.EmbeddingRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		report.Invalid++
		return "blob corrupt", nil
	}
	if rec.ModelID != g.modelID {
		report.Stale++
		return fmt.Sprintf("model %s, want %s", rec.ModelID, g.modelID), nil
	}
	if err := g.Validate(rec.Vector); err != nil {
		report.Invalid++
		return err.Error(), nil
	}
	return "", nil
}

func (g *EmbeddingGuard) queueReembed(ctx context.Context, entry *storage.VectorIndexEntry) (bool, error) {
	body, err := json.Marshal(profile.ReembedMessage{
		TenantID:  entry.TenantID,
		CompanyID: entry.EntityID,
	})
	if err != nil {
		return false, fmt.Errorf("marshal reembed message: %w", err)
	}
	queued, err := g.queue.SendUnique(ctx, queue.QueueProfileReembed, "reembed:"+entry.EntityID, body)
	if err != nil {
		return false, fmt.Errorf("queue reembed for %s: %w", entry.EntityID, err)
	}
	return queued, nil
}
