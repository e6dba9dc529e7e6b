// Package config provides unified configuration loading for the match engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the match engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Vector        VectorConfig        `yaml:"vector"`
	Cache         CacheConfig         `yaml:"cache"`
	Queue         QueueConfig         `yaml:"queue"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	OCR           OCRConfig           `yaml:"ocr"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Profile       ProfileConfig       `yaml:"profile"`
	Scraper       ScraperConfig       `yaml:"scraper"`
	Matching      MatchingConfig      `yaml:"matching"`
	Batch         BatchConfig         `yaml:"batch"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Adapter   string         `yaml:"adapter"` // memory or pgvector
	Dimension int            `yaml:"dimension"`
	PGVector  PGVectorConfig `yaml:"pgvector"`
}

// PGVectorConfig holds PGVector-specific settings.
type PGVectorConfig struct {
	IndexType string `yaml:"index_type"`
	Lists     int    `yaml:"lists"`
}

// CacheConfig holds match-cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// QueueConfig holds work-queue settings.
type QueueConfig struct {
	Driver            string        `yaml:"driver"` // memory or redis
	Redis             RedisConfig   `yaml:"redis"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxReceive        int           `yaml:"max_receive"`
}

// ObjectStoreConfig holds blob storage settings.
type ObjectStoreConfig struct {
	Driver string `yaml:"driver"` // fs or memory
	Root   string `yaml:"root"`
	// SigningSecret keys the HMAC on upload and download grant tokens.
	SigningSecret string `yaml:"signing_secret"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	MaxWords   int           `yaml:"max_words"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig holds text-LLM settings for summaries and classification.
type LLMConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OCRConfig holds OCR service settings.
type OCRConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	SyncLimit      int64         `yaml:"sync_limit"` // bytes; larger blobs use async polling
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// IngestionConfig holds opportunity ingestion settings.
type IngestionConfig struct {
	CSVSourceURL       string        `yaml:"csv_source_url"`
	MaxCSVBytes        int64         `yaml:"max_csv_bytes"`
	MaxAttachmentBytes int64         `yaml:"max_attachment_bytes"`
	DownloadTimeout    time.Duration `yaml:"download_timeout"`
	ChunkSize          int           `yaml:"chunk_size"`
	ChunkOverlap       int           `yaml:"chunk_overlap"`
	RowsPerMessage     int           `yaml:"rows_per_message"`
}

// ProfileConfig holds company-profile document settings.
type ProfileConfig struct {
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	UploadTokenTTL time.Duration `yaml:"upload_token_ttl"`
}

// ScraperConfig holds website scraper settings.
type ScraperConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	RequestDelay   time.Duration `yaml:"request_delay"`
	MaxPages       int           `yaml:"max_pages"`
	MaxDepth       int           `yaml:"max_depth"`
	RobotsCacheTTL time.Duration `yaml:"robots_cache_ttl"`
}

// MatchingConfig holds match orchestration settings.
type MatchingConfig struct {
	ComponentWorkers     int           `yaml:"component_workers"`
	ComponentTimeout     time.Duration `yaml:"component_timeout"`
	MaxConcurrentMatches int           `yaml:"max_concurrent_matches"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
}

// BatchConfig holds batch orchestration settings.
type BatchConfig struct {
	DefaultBatchSize     int           `yaml:"default_batch_size"`
	MinBatchSize         int           `yaml:"min_batch_size"`
	MaxBatchSize         int           `yaml:"max_batch_size"`
	MaxConcurrency       int           `yaml:"max_concurrency"`
	TargetLatency        time.Duration `yaml:"target_latency"`
	WorkerTimeout        time.Duration `yaml:"worker_timeout"`
	RunTimeout           time.Duration `yaml:"run_timeout"`
	HealthWindow         time.Duration `yaml:"health_window"`
	StalledAfter         time.Duration `yaml:"stalled_after"`
	DegradedFailureRatio float64       `yaml:"degraded_failure_ratio"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/govmatch.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Vector: VectorConfig{
			Adapter:   "memory",
			Dimension: 1024,
			PGVector: PGVectorConfig{
				IndexType: "ivfflat",
				Lists:     100,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Queue: QueueConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       1,
				PoolSize: 10,
			},
			VisibilityTimeout: 15 * time.Minute,
			MaxReceive:        10,
		},
		ObjectStore: ObjectStoreConfig{
			Driver:        "fs",
			Root:          "/tmp/govmatch-store",
			SigningSecret: "dev-signing-secret",
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "qwen/qwen3-embedding-8b",
			Dimension:  1024,
			MaxWords:   8000,
			MaxRetries: 3,
			Timeout:    30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "google/gemini-2.5-flash",
			MaxRetries: 3,
			Timeout:    60 * time.Second,
		},
		OCR: OCRConfig{
			SyncLimit:      5 * 1024 * 1024,
			PollInterval:   2 * time.Second,
			PollTimeout:    5 * time.Minute,
			RequestTimeout: 30 * time.Second,
		},
		Ingestion: IngestionConfig{
			MaxCSVBytes:        512 * 1024 * 1024,
			MaxAttachmentBytes: 100 * 1024 * 1024,
			DownloadTimeout:    5 * time.Minute,
			ChunkSize:          1000,
			ChunkOverlap:       200,
			RowsPerMessage:     10,
		},
		Profile: ProfileConfig{
			MaxUploadBytes: 100 * 1024 * 1024,
			UploadTokenTTL: time.Hour,
		},
		Scraper: ScraperConfig{
			UserAgent:      "GovMatchBot/1.0 (+https://govmatch.ai/bot)",
			RequestDelay:   2 * time.Second,
			MaxPages:       10,
			MaxDepth:       3,
			RobotsCacheTTL: time.Hour,
		},
		Matching: MatchingConfig{
			ComponentWorkers:     8,
			ComponentTimeout:     30 * time.Second,
			MaxConcurrentMatches: 100,
			CacheTTL:             24 * time.Hour,
		},
		Batch: BatchConfig{
			DefaultBatchSize:     100,
			MinBatchSize:         10,
			MaxBatchSize:         1000,
			MaxConcurrency:       50,
			TargetLatency:        5 * time.Minute,
			WorkerTimeout:        15 * time.Minute,
			RunTimeout:           4 * time.Hour,
			HealthWindow:         6 * time.Hour,
			StalledAfter:         time.Hour,
			DegradedFailureRatio: 0.1,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
		Auth: AuthConfig{
			Enabled:  false,
			Issuer:   "https://auth.govmatch.local",
			Audience: "govmatch",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Vector.Adapter != "memory" && c.Vector.Adapter != "pgvector" {
		return fmt.Errorf("invalid vector adapter: %s", c.Vector.Adapter)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Queue.Driver != "memory" && c.Queue.Driver != "redis" {
		return fmt.Errorf("invalid queue driver: %s", c.Queue.Driver)
	}

	if c.ObjectStore.Driver != "fs" && c.ObjectStore.Driver != "memory" {
		return fmt.Errorf("invalid object store driver: %s", c.ObjectStore.Driver)
	}

	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	if c.Matching.ComponentWorkers < 1 || c.Matching.ComponentWorkers > 8 {
		return fmt.Errorf("component_workers must be between 1 and 8")
	}

	if c.Matching.MaxConcurrentMatches < 1 || c.Matching.MaxConcurrentMatches > 1000 {
		return fmt.Errorf("max_concurrent_matches must be between 1 and 1000")
	}

	if c.Batch.MinBatchSize < 1 || c.Batch.MaxBatchSize < c.Batch.MinBatchSize {
		return fmt.Errorf("invalid batch size bounds [%d, %d]", c.Batch.MinBatchSize, c.Batch.MaxBatchSize)
	}

	if c.Batch.MaxConcurrency < 1 || c.Batch.MaxConcurrency > 50 {
		return fmt.Errorf("batch max_concurrency must be between 1 and 50")
	}

	if c.Ingestion.RowsPerMessage < 1 || c.Ingestion.RowsPerMessage > 10 {
		return fmt.Errorf("rows_per_message must be between 1 and 10")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled but jwt_secret not set")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Database.Driver == "sqlite" || !c.Auth.Enabled
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Database.Postgres.DSN = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		addr := strings.TrimPrefix(v, "redis://")
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = addr
		cfg.Queue.Driver = "redis"
		cfg.Queue.Redis.Addr = addr
	}

	if v := os.Getenv("VECTOR_ADAPTER"); v != "" {
		cfg.Vector.Adapter = v
	}

	if v := os.Getenv("OBJECT_STORE_ROOT"); v != "" {
		cfg.ObjectStore.Root = v
	}

	if v := os.Getenv("OBJECT_STORE_SECRET"); v != "" {
		cfg.ObjectStore.SigningSecret = v
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("OCR_BASE_URL"); v != "" {
		cfg.OCR.BaseURL = v
	}

	if v := os.Getenv("CSV_SOURCE_URL"); v != "" {
		cfg.Ingestion.CSVSourceURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("AUTH_ENABLED"); v == "true" {
		cfg.Auth.Enabled = true
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
