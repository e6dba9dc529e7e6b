package weights

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

type weightsHarness struct {
	store   *Store
	configs *storage.WeightConfigRepository
	audits  *storage.AuditRepository
	db      *sql.DB
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newWeightsHarness(t *testing.T) *weightsHarness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Each sqlite :memory: connection is a separate database; pin to one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db, "sqlite"))

	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	configs := storage.NewWeightConfigRepository(db)
	audits := storage.NewAuditRepository(db)
	store := NewStore(StoreConfig{
		Configs:  configs,
		Audits:   audits,
		CacheTTL: time.Minute,
		Now:      clock.Now,
	})
	return &weightsHarness{store: store, configs: configs, audits: audits, db: db, clock: clock}
}

// shiftSemantic moves weight from the keyword component to the semantic
// one, keeping the sum at 1.0.
func shiftSemantic(delta float64) Update {
	return Update{Weights: map[string]float64{
		match.ComponentSemantic: 0.25 + delta,
		match.ComponentKeyword:  0.15 - delta,
	}}
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestConfigKey_TenantScoping(t *testing.T) {
	assert.Equal(t, "global", ConfigKey(""))
	assert.Equal(t, "tenant:tenant-1", ConfigKey("tenant-1"))
}

func TestStore_ResolveFallbackChain(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	cfg, source, err := h.store.Resolve(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, source)
	assert.Equal(t, match.DefaultWeights(), cfg.Weights)

	_, err = h.store.Update(ctx, "", shiftSemantic(0.05), "ops@example.com")
	require.NoError(t, err)
	h.clock.Advance(time.Second)

	cfg, source, err = h.store.Resolve(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, SourceGlobal, source)
	assert.InDelta(t, 0.30, cfg.Weights[match.ComponentSemantic], 1e-9)

	_, err = h.store.Update(ctx, "tenant-1", shiftSemantic(0.10), "ops@example.com")
	require.NoError(t, err)

	cfg, source, err = h.store.Resolve(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, SourceTenant, source)
	assert.InDelta(t, 0.35, cfg.Weights[match.ComponentSemantic], 1e-9)

	// Other tenants keep inheriting the global configuration.
	cfg, source, err = h.store.Resolve(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Equal(t, SourceGlobal, source)
	assert.InDelta(t, 0.30, cfg.Weights[match.ComponentSemantic], 1e-9)
}

func TestStore_UpdateMergesPartialChanges(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	cfg, err := h.store.Update(ctx, "tenant-1", Update{
		Weights: map[string]float64{
			match.ComponentSemantic: 0.30,
			match.ComponentKeyword:  0.10,
		},
		ConfidenceLevels: &LevelsPatch{High: fptr(0.80)},
		AlgorithmParams:  &ParamsPatch{CacheTTLHours: iptr(48)},
	}, "ops@example.com")
	require.NoError(t, err)

	assert.Equal(t, "tenant:tenant-1", cfg.ConfigKey)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "ops@example.com", cfg.UpdatedBy)
	assert.InDelta(t, 0.30, cfg.Weights[match.ComponentSemantic], 1e-9)
	assert.InDelta(t, 0.10, cfg.Weights[match.ComponentKeyword], 1e-9)
	// Untouched components keep their inherited weights.
	assert.InDelta(t, 0.20, cfg.Weights[match.ComponentNAICS], 1e-9)
	assert.InDelta(t, 0.80, cfg.ConfidenceLevels.High, 1e-9)
	assert.InDelta(t, 0.50, cfg.ConfidenceLevels.Medium, 1e-9)
	assert.Equal(t, 48, cfg.AlgorithmParams.CacheTTLHours)
	assert.Equal(t, 100, cfg.AlgorithmParams.MaxConcurrentMatches)
}

func TestStore_UpdateValidation(t *testing.T) {
	tests := []struct {
		name   string
		update Update
		reason string
	}{
		{
			name:   "unknown component",
			update: Update{Weights: map[string]float64{"sentiment": 0.0}},
			reason: "component weights",
		},
		{
			name:   "weight out of range",
			update: Update{Weights: map[string]float64{match.ComponentSemantic: 1.2}},
			reason: "within [0,1]",
		},
		{
			name:   "sum drifts from one",
			update: Update{Weights: map[string]float64{match.ComponentSemantic: 0.50}},
			reason: "sum to 1.0",
		},
		{
			name:   "inverted confidence bands",
			update: Update{ConfidenceLevels: &LevelsPatch{Medium: fptr(0.90)}},
			reason: "low <= medium <= high",
		},
		{
			name:   "cache ttl beyond a week",
			update: Update{AlgorithmParams: &ParamsPatch{CacheTTLHours: iptr(200)}},
			reason: "cache_ttl_hours",
		},
		{
			name:   "zero concurrency",
			update: Update{AlgorithmParams: &ParamsPatch{MaxConcurrentMatches: iptr(0)}},
			reason: "max_concurrent_matches",
		},
		{
			name:   "negative min score",
			update: Update{AlgorithmParams: &ParamsPatch{MinScoreThreshold: fptr(-0.1)}},
			reason: "min_score_threshold",
		},
		{
			name:   "similarity threshold above one",
			update: Update{AlgorithmParams: &ParamsPatch{SemanticSimilarityThreshold: fptr(1.5)}},
			reason: "semantic_similarity_threshold",
		},
		{
			name:   "negative consistency threshold",
			update: Update{AlgorithmParams: &ParamsPatch{ScoreConsistencyThreshold: fptr(-1)}},
			reason: "score_consistency_threshold",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newWeightsHarness(t)
			_, err := h.store.Update(context.Background(), "tenant-1", tc.update, "ops@example.com")
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tc.reason)

			// Rejected updates leave no trace.
			_, source, err := h.store.Resolve(context.Background(), "tenant-1")
			require.NoError(t, err)
			assert.Equal(t, SourceDefault, source)
		})
	}
}

func TestStore_VersionsContinuePerKey(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.store.Update(ctx, "", shiftSemantic(0.01*float64(i+1)), "ops@example.com")
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	// A tenant's first override starts its own version line even though it
	// inherits values from the global configuration.
	cfg, err := h.store.Update(ctx, "tenant-1", shiftSemantic(0.05), "analyst@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)

	global, err := h.configs.GetLatest(ctx, GlobalConfigKey)
	require.NoError(t, err)
	assert.Equal(t, 3, global.Version)
}

func TestStore_FrozenClockStillOrdersVersions(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	// Two updates at the same instant: the second is nudged forward so the
	// newest-by-timestamp read returns the newest version.
	_, err := h.store.Update(ctx, "tenant-1", shiftSemantic(0.02), "ops@example.com")
	require.NoError(t, err)
	_, err = h.store.Update(ctx, "tenant-1", shiftSemantic(0.04), "ops@example.com")
	require.NoError(t, err)

	latest, err := h.configs.GetLatest(ctx, ConfigKey("tenant-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.InDelta(t, 0.29, latest.Weights[match.ComponentSemantic], 1e-9)
}

func TestStore_History(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.store.Update(ctx, "tenant-1", shiftSemantic(0.01*float64(i+1)), "ops@example.com")
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	history, err := h.store.History(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Version)
	assert.Equal(t, 1, history[2].Version)
	// Superseded versions carry an expiry; only the newest is open-ended.
	assert.Nil(t, history[0].ExpiresAt)
	assert.NotNil(t, history[1].ExpiresAt)
	assert.NotNil(t, history[2].ExpiresAt)
}

func TestStore_ResetRestoresInheritance(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	_, err := h.store.Update(ctx, "", shiftSemantic(0.05), "ops@example.com")
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.store.Update(ctx, "tenant-1", shiftSemantic(0.10), "analyst@example.com")
	require.NoError(t, err)
	h.clock.Advance(time.Second)

	require.NoError(t, h.store.Reset(ctx, "tenant-1", "ops@example.com"))

	cfg, source, err := h.store.Resolve(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, SourceGlobal, source)
	assert.InDelta(t, 0.30, cfg.Weights[match.ComponentSemantic], 1e-9)

	history, err := h.store.History(ctx, "tenant-1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_AuditTrail(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	_, err := h.store.Update(ctx, "tenant-1", Update{
		Weights:          map[string]float64{match.ComponentSemantic: 0.30, match.ComponentKeyword: 0.10},
		ConfidenceLevels: &LevelsPatch{High: fptr(0.80)},
	}, "analyst@example.com")
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	require.NoError(t, h.store.Reset(ctx, "tenant-1", "ops@example.com"))

	recs, err := h.audits.ListByTenant(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	reset, update := recs[0], recs[1]
	assert.Equal(t, "weight_config.reset", reset.Action)
	assert.Equal(t, "ops@example.com", reset.Actor)

	assert.Equal(t, "weight_config.update", update.Action)
	assert.Equal(t, "analyst@example.com", update.Actor)
	assert.Equal(t, "weight_configuration", update.ResourceType)
	assert.Equal(t, "tenant:tenant-1", update.ResourceID)
	assert.Contains(t, update.Details, "weights")
	assert.Contains(t, update.Details, "confidence_levels")
	assert.NotContains(t, update.Details, "algorithm_params")
}

func TestStore_CachedResolveSeesOwnUpdates(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()

	// Prime the cache, including the negative entry for the tenant key.
	_, source, err := h.store.Resolve(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, source)

	_, err = h.store.Update(ctx, "tenant-1", shiftSemantic(0.05), "ops@example.com")
	require.NoError(t, err)

	cfg, source, err := h.store.Resolve(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, SourceTenant, source)
	assert.InDelta(t, 0.30, cfg.Weights[match.ComponentSemantic], 1e-9)
}

type stubPublisher struct {
	mu        sync.Mutex
	published []map[string]interface{}
	msgs      chan []byte
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{msgs: make(chan []byte, 8)}
}

func (p *stubPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := message.(map[string]interface{}); ok {
		p.published = append(p.published, m)
	}
	return nil
}

func (p *stubPublisher) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	return p.msgs, func() {}, nil
}

func (p *stubPublisher) last() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.published) == 0 {
		return nil
	}
	return p.published[len(p.published)-1]
}

func TestStore_ListenDropsRemotelyChangedKeys(t *testing.T) {
	h := newWeightsHarness(t)
	ctx := context.Background()
	pub := newStubPublisher()

	writer := NewStore(StoreConfig{Configs: h.configs, Audits: h.audits, Publisher: pub, Now: h.clock.Now})
	reader := NewStore(StoreConfig{Configs: h.configs, Publisher: pub, CacheTTL: time.Hour, Now: h.clock.Now})

	_, err := writer.Update(ctx, "tenant-1", shiftSemantic(0.02), "ops@example.com")
	require.NoError(t, err)

	cfg, err := reader.Effective(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Version)

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- reader.Listen(listenCtx) }()

	// A second process updates the configuration; the reader still holds
	// version 1 until the change notification lands.
	_, err = writer.Update(ctx, "tenant-1", shiftSemantic(0.04), "ops@example.com")
	require.NoError(t, err)

	note := pub.last()
	require.NotNil(t, note)
	assert.Equal(t, "tenant:tenant-1", note["config_key"])
	payload, err := json.Marshal(note)
	require.NoError(t, err)
	pub.msgs <- payload

	require.Eventually(t, func() bool {
		cfg, err := reader.Effective(ctx, "tenant-1")
		return err == nil && cfg.Version == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(match.DefaultConfig()))
}
