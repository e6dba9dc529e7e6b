package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// PGVectorAdapter implements Adapter on PostgreSQL's pgvector extension.
// It keeps its own table so the index can be rebuilt without touching the
// relational schema.
type PGVectorAdapter struct {
	db        *sql.DB
	dimension int
}

// PGVectorConfig holds pgvector adapter configuration.
type PGVectorConfig struct {
	Dimension int
	Lists     int
}

// NewPGVectorAdapter creates the adapter and ensures its schema exists.
func NewPGVectorAdapter(ctx context.Context, db *sql.DB, cfg PGVectorConfig) (*PGVectorAdapter, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1024
	}
	if cfg.Lists <= 0 {
		cfg.Lists = 100
	}

	a := &PGVectorAdapter{db: db, dimension: cfg.Dimension}
	if err := a.ensureSchema(ctx, cfg.Lists); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *PGVectorAdapter) ensureSchema(ctx context.Context, lists int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_entries (
			key TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT '',
			naics_code TEXT NOT NULL DEFAULT '',
			agency TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			posted_date TIMESTAMPTZ,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, a.dimension),
		`CREATE INDEX IF NOT EXISTS vector_entries_entity_idx ON vector_entries (entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS vector_entries_tenant_idx ON vector_entries (tenant_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS vector_entries_embedding_idx
			ON vector_entries USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`, lists),
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			// ivfflat creation can fail on an empty table with too few rows;
			// the query planner falls back to a sequential scan until it exists.
			if strings.Contains(err.Error(), "ivfflat") {
				continue
			}
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}

	return nil
}

// Search finds the k nearest neighbors ordered by cosine distance.
func (a *PGVectorAdapter) Search(ctx context.Context, query []float32, k int, filters Filters) ([]Result, error) {
	if len(query) != a.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, a.dimension, len(query))
	}

	args := []interface{}{pgvector.NewVector(query)}
	var where []string

	addFilter := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if len(filters.EntityTypes) > 0 {
		types := make([]string, len(filters.EntityTypes))
		for i, t := range filters.EntityTypes {
			types[i] = string(t)
		}
		addFilter("entity_type = ANY($%d)", pq.Array(types))
	}
	if filters.TenantID != nil {
		addFilter("tenant_id = $%d", *filters.TenantID)
	}
	if len(filters.ContentTypes) > 0 {
		addFilter("content_type = ANY($%d)", pq.Array(filters.ContentTypes))
	}
	if len(filters.NAICSCodes) > 0 {
		addFilter("naics_code = ANY($%d)", pq.Array(filters.NAICSCodes))
	}
	if len(filters.Agencies) > 0 {
		addFilter("agency = ANY($%d)", pq.Array(filters.Agencies))
	}
	if len(filters.States) > 0 {
		addFilter("state = ANY($%d)", pq.Array(filters.States))
	}
	if filters.PostedAfter != nil {
		addFilter("posted_date >= $%d", *filters.PostedAfter)
	}

	querySQL := `SELECT key, entity_type, entity_id, content_type, embedding <=> $1 AS distance, metadata
		FROM vector_entries`
	if len(where) > 0 {
		querySQL += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, k)
	querySQL += fmt.Sprintf(" ORDER BY distance LIMIT $%d", len(args))

	rows, err := a.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			entType  string
			distance float64
			metadata sql.NullString
		)
		if err := rows.Scan(&r.Key, &entType, &r.EntityID, &r.ContentType, &distance, &metadata); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		r.EntityType = storage.VectorEntityType(entType)
		r.Distance = float32(distance)
		r.Score = 1 - r.Distance
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &r.Metadata)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector results: %w", err)
	}

	return results, nil
}

// Upsert adds or replaces vectors keyed by Entry.Key.
func (a *PGVectorAdapter) Upsert(ctx context.Context, entries []Entry) error {
	const upsert = `INSERT INTO vector_entries
		(key, entity_type, entity_id, content_type, tenant_id, naics_code, agency, state, posted_date, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (key) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			entity_id = EXCLUDED.entity_id,
			content_type = EXCLUDED.content_type,
			tenant_id = EXCLUDED.tenant_id,
			naics_code = EXCLUDED.naics_code,
			agency = EXCLUDED.agency,
			state = EXCLUDED.state,
			posted_date = EXCLUDED.posted_date,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`

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

		var metadata interface{}
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal vector metadata: %w", err)
			}
			metadata = string(raw)
		}

		var postedDate interface{}
		if e.PostedDate != nil {
			postedDate = e.PostedDate.UTC()
		}

		if _, err := a.db.ExecContext(ctx, upsert,
			e.Key, string(e.EntityType), e.EntityID, e.ContentType,
			e.TenantID, e.NAICSCode, e.Agency, e.State, postedDate,
			pgvector.NewVector(e.Vector), metadata, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("upsert vector %s: %w", e.Key, err)
		}
	}

	return nil
}

// Delete removes vectors by key.
func (a *PGVectorAdapter) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := a.db.ExecContext(ctx, `DELETE FROM vector_entries WHERE key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// DeleteByEntity removes every vector belonging to an entity.
func (a *PGVectorAdapter) DeleteByEntity(ctx context.Context, entityType storage.VectorEntityType, entityID string) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM vector_entries WHERE entity_type = $1 AND entity_id = $2`,
		string(entityType), entityID,
	)
	if err != nil {
		return fmt.Errorf("delete vectors for %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

// Count returns the number of vectors in the index.
func (a *PGVectorAdapter) Count(ctx context.Context) (int64, error) {
	var count int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_entries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return count, nil
}

// Close is a no-op; the *sql.DB is owned by the caller.
func (a *PGVectorAdapter) Close() error {
	return nil
}

var _ Adapter = (*PGVectorAdapter)(nil)
