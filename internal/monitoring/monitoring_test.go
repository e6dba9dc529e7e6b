package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Each sqlite :memory: connection is a separate database; pin to one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db, "sqlite"))
	return db
}

func TestRequestAuditor_RecordsMutatingRequests(t *testing.T) {
	db := newTestDB(t)
	audits := storage.NewAuditRepository(db)

	auditor := NewRequestAuditor(audits, func(r *http.Request) (string, string) {
		return "user-1", "tenant-1"
	}, nil)

	handler := auditor.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/profile/documents/doc-1", nil))
	assert.Equal(t, http.StatusCreated, rr.Code)

	// Reads are not audited.
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/profile/documents", nil))

	rows, err := audits.ListByTenant(context.Background(), "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "user-1", rows[0].Actor)
	assert.Equal(t, "post", rows[0].Action)
	assert.Equal(t, "documents", rows[0].ResourceType)
	assert.Equal(t, "doc-1", rows[0].ResourceID)
	assert.EqualValues(t, http.StatusCreated, rows[0].Details["status"])
}

func TestSplitResource(t *testing.T) {
	cases := []struct {
		path     string
		resType  string
		resID    string
	}{
		{"/api/v1/profile/documents/doc-1", "documents", "doc-1"},
		{"/api/v1/config/weights", "config", "weights"},
		{"/matches", "matches", ""},
		{"/", "", ""},
	}
	for _, tc := range cases {
		gotType, gotID := splitResource(tc.path)
		assert.Equal(t, tc.resType, gotType, tc.path)
		assert.Equal(t, tc.resID, gotID, tc.path)
	}
}

type guardHarness struct {
	guard      *EmbeddingGuard
	index      *storage.VectorIndexRepository
	embeddings objectstore.Store
	queue      *queue.MemoryQueue
}

func newGuardHarness(t *testing.T, dimension int) *guardHarness {
	t.Helper()
	db := newTestDB(t)
	index := storage.NewVectorIndexRepository(db)
	embeddings := objectstore.NewMemoryStore()
	q := queue.NewMemoryQueue(queue.Options{})

	guard := NewEmbeddingGuard(GuardConfig{
		VectorIndex: index,
		Embeddings:  embeddings,
		Queue:       q,
		ModelID:     "embed-v2",
		Dimension:   dimension,
	})
	return &guardHarness{guard: guard, index: index, embeddings: embeddings, queue: q}
}

// seedProfile stores an embedding blob and its index entry for one company.
func (h *guardHarness) seedProfile(t *testing.T, companyID, modelID string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	key := fmt.Sprintf("profiles/%s/profile.json", companyID)
	blob, err := json.Marshal(storage.EmbeddingRecord{
		OwnerID:     companyID,
		ContentType: "full_document",
		Vector:      vec,
		ModelID:     modelID,
		GeneratedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, h.embeddings.Put(ctx, key, blob))
	require.NoError(t, h.index.Upsert(ctx, &storage.VectorIndexEntry{
		EntityType:   storage.VectorEntityCompanyProfile,
		EntityID:     companyID,
		ContentType:  "full_document",
		EmbeddingURI: key,
		TenantID:     "tenant-1",
	}))
}

func unitVector(dimension int) []float32 {
	vec := make([]float32, dimension)
	vec[0] = 1
	return vec
}

func TestEmbeddingGuard_Validate(t *testing.T) {
	h := newGuardHarness(t, 4)

	assert.NoError(t, h.guard.Validate([]float32{1, 0, 0, 0}))
	assert.ErrorIs(t, h.guard.Validate([]float32{1, 0}), ErrDimensionMismatch)
	assert.ErrorIs(t, h.guard.Validate([]float32{3, 0, 0, 0}), ErrNotNormalized)
	assert.ErrorIs(t, h.guard.Validate([]float32{0, 0, 0, 0}), ErrNotNormalized)
}

func TestEmbeddingGuard_ScanQueuesStaleAndInvalid(t *testing.T) {
	h := newGuardHarness(t, 4)
	ctx := context.Background()

	h.seedProfile(t, "comp-ok", "embed-v2", unitVector(4))
	h.seedProfile(t, "comp-stale", "embed-v1", unitVector(4))
	h.seedProfile(t, "comp-short", "embed-v2", []float32{1, 0})
	h.seedProfile(t, "comp-denorm", "embed-v2", []float32{2, 2, 2, 2})

	// Index entry whose blob was lost.
	require.NoError(t, h.index.Upsert(ctx, &storage.VectorIndexEntry{
		EntityType:   storage.VectorEntityCompanyProfile,
		EntityID:     "comp-gone",
		ContentType:  "full_document",
		EmbeddingURI: "profiles/comp-gone/profile.json",
		TenantID:     "tenant-1",
	}))

	report, err := h.guard.ScanProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 2, report.Invalid)
	assert.Equal(t, 4, report.Queued)

	msgs, err := h.queue.Receive(ctx, queue.QueueProfileReembed, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	var msg profile.ReembedMessage
	require.NoError(t, json.Unmarshal(msgs[0].Body, &msg))
	assert.Equal(t, "tenant-1", msg.TenantID)
	assert.NotEmpty(t, msg.CompanyID)
}

func TestEmbeddingGuard_RescanDoesNotDuplicate(t *testing.T) {
	h := newGuardHarness(t, 4)
	ctx := context.Background()

	h.seedProfile(t, "comp-stale", "embed-v1", unitVector(4))

	first, err := h.guard.ScanProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Queued)

	second, err := h.guard.ScanProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stale)
	assert.Zero(t, second.Queued, "dedup window suppresses the repeat")

	depth, err := h.queue.Depth(ctx, queue.QueueProfileReembed)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
