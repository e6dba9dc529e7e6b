// Package weights manages versioned matching configuration: component
// weights, confidence thresholds, and algorithm parameters, stored globally
// or per tenant with full audit history.
package weights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/govmatch-ai/govmatch/internal/cache"
	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/metrics"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// GlobalConfigKey is the configuration key shared by every tenant without
// an override of its own.
const GlobalConfigKey = "global"

// ConfigChangeChannel carries change notifications so workers drop their
// cached configuration immediately instead of waiting out the TTL.
const ConfigChangeChannel = "weight-config-changes"

// Resolution sources reported alongside an effective configuration.
const (
	SourceTenant  = "tenant"
	SourceGlobal  = "global"
	SourceDefault = "default"
)

// ErrInvalidConfig marks a configuration update that failed validation.
var ErrInvalidConfig = errors.New("invalid weight configuration")

const (
	defaultOldVersionTTL = 30 * 24 * time.Hour
	defaultCacheTTL      = 30 * time.Second
	cacheSize            = 512

	weightSumTolerance   = 0.01
	maxCacheTTLHours     = 168
	maxConcurrentMatches = 1000
)

// ConfigKey maps a tenant to its configuration key. The empty tenant is
// the global configuration.
func ConfigKey(tenantID string) string {
	if tenantID == "" {
		return GlobalConfigKey
	}
	return "tenant:" + tenantID
}

// Update is a partial configuration change. Weights merge per component;
// threshold and parameter fields apply only when set.
type Update struct {
	Weights          map[string]float64 `json:"weights,omitempty"`
	ConfidenceLevels *LevelsPatch       `json:"confidence_levels,omitempty"`
	AlgorithmParams  *ParamsPatch       `json:"algorithm_params,omitempty"`
}

// LevelsPatch adjusts confidence band thresholds.
type LevelsPatch struct {
	High   *float64 `json:"high,omitempty"`
	Medium *float64 `json:"medium,omitempty"`
	Low    *float64 `json:"low,omitempty"`
}

// ParamsPatch adjusts algorithm parameters.
type ParamsPatch struct {
	CacheTTLHours               *int     `json:"cache_ttl_hours,omitempty"`
	MinScoreThreshold           *float64 `json:"min_score_threshold,omitempty"`
	MaxConcurrentMatches        *int     `json:"max_concurrent_matches,omitempty"`
	SemanticSimilarityThreshold *float64 `json:"semantic_similarity_threshold,omitempty"`
	ScoreConsistencyThreshold   *float64 `json:"score_consistency_threshold,omitempty"`
}

// StoreConfig wires a Store.
type StoreConfig struct {
	Configs       *storage.WeightConfigRepository
	Audits        *storage.AuditRepository
	Publisher     cache.Publisher
	Metrics       *metrics.Registry
	Logger        *observability.Logger
	OldVersionTTL time.Duration
	CacheTTL      time.Duration
	Now           func() time.Time
}

// Store resolves and mutates weight configuration. It implements
// match.ConfigSource.
type Store struct {
	configs       *storage.WeightConfigRepository
	audits        *storage.AuditRepository
	publisher     cache.Publisher
	metrics       *metrics.Registry
	logger        *observability.Logger
	oldVersionTTL time.Duration
	now           func() time.Time

	// cached holds recently resolved keys; a nil value records a known
	// miss so absent tenant overrides do not hit storage on every match.
	cached *expirable.LRU[string, *storage.WeightConfig]
}

var _ match.ConfigSource = (*Store)(nil)

// NewStore creates a configuration store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.OldVersionTTL <= 0 {
		cfg.OldVersionTTL = defaultOldVersionTTL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		configs:       cfg.Configs,
		audits:        cfg.Audits,
		publisher:     cfg.Publisher,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		oldVersionTTL: cfg.OldVersionTTL,
		now:           cfg.Now,
		cached:        expirable.NewLRU[string, *storage.WeightConfig](cacheSize, nil, cfg.CacheTTL),
	}
}

// Effective resolves the configuration for a tenant: the tenant override
// when one exists, otherwise the global configuration, otherwise the
// built-in defaults.
func (s *Store) Effective(ctx context.Context, tenantID string) (*storage.WeightConfig, error) {
	cfg, _, err := s.Resolve(ctx, tenantID)
	return cfg, err
}

// Resolve is Effective plus the source the configuration came from.
func (s *Store) Resolve(ctx context.Context, tenantID string) (*storage.WeightConfig, string, error) {
	if tenantID != "" {
		cfg, err := s.lookup(ctx, ConfigKey(tenantID))
		if err != nil {
			return nil, "", err
		}
		if cfg != nil {
			return cfg, SourceTenant, nil
		}
	}
	cfg, err := s.lookup(ctx, GlobalConfigKey)
	if err != nil {
		return nil, "", err
	}
	if cfg != nil {
		return cfg, SourceGlobal, nil
	}
	return match.DefaultConfig(), SourceDefault, nil
}

// lookup reads one key through the cache. A nil result with nil error
// means the key has no stored configuration.
func (s *Store) lookup(ctx context.Context, key string) (*storage.WeightConfig, error) {
	if cfg, ok := s.cached.Get(key); ok {
		return cfg, nil
	}
	cfg, err := s.configs.GetLatest(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		s.cached.Add(key, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.cached.Add(key, cfg)
	return cfg, nil
}

// Update applies a partial change on top of the tenant's current effective
// configuration, validates the result, and stores it as a new version.
func (s *Store) Update(ctx context.Context, tenantID string, update Update, actor string) (*storage.WeightConfig, error) {
	current, _, err := s.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	key := ConfigKey(tenantID)

	next := merge(current, update)
	next.ConfigKey = key
	next.UpdatedBy = actor
	next.ExpiresAt = nil
	next.Version = 1
	next.Timestamp = s.now().UTC()

	// Version numbers continue the key's own history, not the global
	// configuration a tenant may have inherited from.
	prev, err := s.configs.GetLatest(ctx, key)
	switch {
	case err == nil:
		next.Version = prev.Version + 1
		if !next.Timestamp.After(prev.Timestamp) {
			next.Timestamp = prev.Timestamp.Add(time.Microsecond)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if err := Validate(next); err != nil {
		return nil, err
	}
	if err := s.configs.Insert(ctx, next, s.oldVersionTTL); err != nil {
		return nil, fmt.Errorf("store weight config: %w", err)
	}

	s.audit(ctx, tenantID, actor, "weight_config.update", key, diff(current, next))
	s.afterChange(ctx, key, next)

	s.logger.WithTenant(tenantID).Info().
		Str("config_key", key).
		Int("version", next.Version).
		Str("updated_by", actor).
		Msg("Weight configuration updated")
	return next, nil
}

// Reset removes every stored version for the tenant, returning it to the
// inherited configuration.
func (s *Store) Reset(ctx context.Context, tenantID, actor string) error {
	key := ConfigKey(tenantID)
	if err := s.configs.DeleteAll(ctx, key); err != nil {
		return fmt.Errorf("reset weight config: %w", err)
	}

	s.audit(ctx, tenantID, actor, "weight_config.reset", key, nil)
	s.afterChange(ctx, key, nil)

	s.logger.WithTenant(tenantID).Info().
		Str("config_key", key).
		Str("updated_by", actor).
		Msg("Weight configuration reset")
	return nil
}

// History lists stored versions for the tenant, newest first.
func (s *Store) History(ctx context.Context, tenantID string, limit int) ([]*storage.WeightConfig, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.configs.History(ctx, ConfigKey(tenantID), limit)
}

// Listen consumes change notifications published by other processes and
// drops the affected keys from the local cache. It blocks until the
// context ends or the subscription fails.
func (s *Store) Listen(ctx context.Context) error {
	if s.publisher == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	msgs, stop, err := s.publisher.Subscribe(ctx, ConfigChangeChannel)
	if err != nil {
		return fmt.Errorf("subscribe config changes: %w", err)
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var note struct {
				ConfigKey string `json:"config_key"`
			}
			if err := json.Unmarshal(payload, &note); err != nil || note.ConfigKey == "" {
				continue
			}
			s.cached.Remove(note.ConfigKey)
		}
	}
}

// afterChange invalidates the local cache, refreshes gauges, and notifies
// other processes. cfg is nil after a reset.
func (s *Store) afterChange(ctx context.Context, key string, cfg *storage.WeightConfig) {
	s.cached.Remove(key)

	if s.metrics != nil {
		published := cfg
		if published == nil {
			published = match.DefaultConfig()
		}
		s.metrics.SetWeights(key, published.Weights)
		s.metrics.SetThresholds(key,
			published.ConfidenceLevels.High,
			published.ConfidenceLevels.Medium,
			published.ConfidenceLevels.Low)
	}

	if s.publisher == nil {
		return
	}
	version := 0
	if cfg != nil {
		version = cfg.Version
	}
	note := map[string]interface{}{"config_key": key, "version": version}
	if err := s.publisher.Publish(ctx, ConfigChangeChannel, note); err != nil {
		s.logger.Warn().Err(err).Str("config_key", key).Msg("Config change notification failed")
	}
}

func (s *Store) audit(ctx context.Context, tenantID, actor, action, key string, details map[string]interface{}) {
	if s.audits == nil {
		return
	}
	rec := &storage.AuditRecord{
		TenantID:     tenantID,
		Timestamp:    s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "weight_configuration",
		ResourceID:   key,
		Details:      details,
	}
	if err := s.audits.Insert(ctx, rec); err != nil {
		s.logger.WithTenant(tenantID).Warn().Err(err).Str("action", action).Msg("Audit write failed")
	}
}

// merge overlays an update on a base configuration.
func merge(base *storage.WeightConfig, update Update) *storage.WeightConfig {
	next := &storage.WeightConfig{
		Weights:          make(map[string]float64, len(base.Weights)),
		ConfidenceLevels: base.ConfidenceLevels,
		AlgorithmParams:  base.AlgorithmParams,
	}
	for name, w := range base.Weights {
		next.Weights[name] = w
	}
	for name, w := range update.Weights {
		next.Weights[name] = w
	}
	if p := update.ConfidenceLevels; p != nil {
		if p.High != nil {
			next.ConfidenceLevels.High = *p.High
		}
		if p.Medium != nil {
			next.ConfidenceLevels.Medium = *p.Medium
		}
		if p.Low != nil {
			next.ConfidenceLevels.Low = *p.Low
		}
	}
	if p := update.AlgorithmParams; p != nil {
		if p.CacheTTLHours != nil {
			next.AlgorithmParams.CacheTTLHours = *p.CacheTTLHours
		}
		if p.MinScoreThreshold != nil {
			next.AlgorithmParams.MinScoreThreshold = *p.MinScoreThreshold
		}
		if p.MaxConcurrentMatches != nil {
			next.AlgorithmParams.MaxConcurrentMatches = *p.MaxConcurrentMatches
		}
		if p.SemanticSimilarityThreshold != nil {
			next.AlgorithmParams.SemanticSimilarityThreshold = *p.SemanticSimilarityThreshold
		}
		if p.ScoreConsistencyThreshold != nil {
			next.AlgorithmParams.ScoreConsistencyThreshold = *p.ScoreConsistencyThreshold
		}
	}
	return next
}

// Validate checks a full configuration against the invariants the matching
// engine depends on.
func Validate(cfg *storage.WeightConfig) error {
	if len(cfg.Weights) != len(match.ComponentNames) {
		return fmt.Errorf("%w: expected %d component weights, got %d",
			ErrInvalidConfig, len(match.ComponentNames), len(cfg.Weights))
	}
	var sum float64
	for _, name := range match.ComponentNames {
		w, ok := cfg.Weights[name]
		if !ok {
			return fmt.Errorf("%w: missing weight for %s", ErrInvalidConfig, name)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: weight for %s must be within [0,1], got %v", ErrInvalidConfig, name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("%w: weights must sum to 1.0 within %.2f, got %.4f",
			ErrInvalidConfig, weightSumTolerance, sum)
	}

	levels := cfg.ConfidenceLevels
	if levels.Low < 0 || levels.High > 1 || levels.Low > levels.Medium || levels.Medium > levels.High {
		return fmt.Errorf("%w: confidence levels must satisfy 0 <= low <= medium <= high <= 1", ErrInvalidConfig)
	}

	params := cfg.AlgorithmParams
	if params.CacheTTLHours < 0 || params.CacheTTLHours > maxCacheTTLHours {
		return fmt.Errorf("%w: cache_ttl_hours must be within [0,%d]", ErrInvalidConfig, maxCacheTTLHours)
	}
	if params.MaxConcurrentMatches < 1 || params.MaxConcurrentMatches > maxConcurrentMatches {
		return fmt.Errorf("%w: max_concurrent_matches must be within [1,%d]", ErrInvalidConfig, maxConcurrentMatches)
	}
	if params.MinScoreThreshold < 0 || params.MinScoreThreshold > 1 {
		return fmt.Errorf("%w: min_score_threshold must be within [0,1]", ErrInvalidConfig)
	}
	if params.SemanticSimilarityThreshold < 0 || params.SemanticSimilarityThreshold > 1 {
		return fmt.Errorf("%w: semantic_similarity_threshold must be within [0,1]", ErrInvalidConfig)
	}
	if params.ScoreConsistencyThreshold < 0 {
		return fmt.Errorf("%w: score_consistency_threshold must not be negative", ErrInvalidConfig)
	}
	return nil
}

// diff records which sections an update changed, with before and after
// values, for the audit trail.
func diff(before, after *storage.WeightConfig) map[string]interface{} {
	details := map[string]interface{}{"version": after.Version}

	weightChanges := map[string][]float64{}
	for _, name := range match.ComponentNames {
		if before.Weights[name] != after.Weights[name] {
			weightChanges[name] = []float64{before.Weights[name], after.Weights[name]}
		}
	}
	if len(weightChanges) > 0 {
		details["weights"] = weightChanges
	}
	if before.ConfidenceLevels != after.ConfidenceLevels {
		details["confidence_levels"] = map[string]interface{}{
			"from": before.ConfidenceLevels, "to": after.ConfidenceLevels,
		}
	}
	if before.AlgorithmParams != after.AlgorithmParams {
		details["algorithm_params"] = map[string]interface{}{
			"from": before.AlgorithmParams, "to": after.AlgorithmParams,
		}
	}
	return details
}
