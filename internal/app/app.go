// Package app assembles the dependency graph shared by the GovMatch
// binaries. Every external handle (database, cache, queue, blobs, model
// clients) is built once from configuration and carried in a Dependencies
// value so nothing lives in package-level state.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/govmatch-ai/govmatch/internal/batch"
	"github.com/govmatch-ai/govmatch/internal/cache"
	"github.com/govmatch-ai/govmatch/internal/chunk"
	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/embedding"
	"github.com/govmatch-ai/govmatch/internal/extract"
	"github.com/govmatch-ai/govmatch/internal/llm"
	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/metrics"
	"github.com/govmatch-ai/govmatch/internal/monitoring"
	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/opportunity"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
	"github.com/govmatch-ai/govmatch/internal/vector"
	"github.com/govmatch-ai/govmatch/internal/weights"
)

// Dependencies carries every shared handle and service the binaries use.
type Dependencies struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *metrics.Registry

	DB     *sql.DB
	Repos  *storage.Repositories
	Cache  cache.Client
	Queue  queue.Queue
	Blobs  *objectstore.Buckets
	Signer *objectstore.Signer
	Vector vector.Adapter

	Embedder  embedding.Embedder
	LLM       llm.LLM
	Extractor *extract.Extractor
	Chunker   *chunk.Chunker

	Weights     *weights.Store
	Matcher     *match.Orchestrator
	Profiles    *profile.Service
	Optimizer   *batch.Optimizer
	Coordinator *batch.Coordinator
	Tracker     *batch.Tracker
	Failures    *batch.FailureHandler
	Monitor     *batch.Monitor
	Schedules   *batch.ScheduleManager
	Runner      *batch.Runner

	ProfileProc *profile.Processor
	OppProc     *opportunity.Processor
	Ingestor    *opportunity.Ingestor
	Guard       *monitoring.EmbeddingGuard
}

// New builds the full dependency graph from configuration. The caller owns
// the result and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repos := storage.NewRepositories(db)

	cacheClient, err := newCache(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	q, err := newQueue(cfg)
	if err != nil {
		cacheClient.Close()
		db.Close()
		return nil, err
	}

	blobs, err := newBlobs(cfg)
	if err != nil {
		q.Close()
		cacheClient.Close()
		db.Close()
		return nil, err
	}
	signer := objectstore.NewSigner(cfg.ObjectStore.SigningSecret)

	adapter, err := newVectorAdapter(ctx, db, cfg)
	if err != nil {
		blobs.Close()
		q.Close()
		cacheClient.Close()
		db.Close()
		return nil, err
	}

	embedder := newEmbedder(cfg, logger)
	model := newLLM(cfg, logger)
	extractor := newExtractor(cfg, blobs, logger)
	chunker := chunk.NewChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)

	reg := metrics.NewRegistry()

	weightStore := weights.NewStore(weights.StoreConfig{
		Configs:   repos.WeightConfig,
		Audits:    repos.Audit,
		Publisher: cacheClient.(cache.Publisher),
		Metrics:   reg,
		Logger:    logger,
		CacheTTL:  cfg.Cache.TTL,
	})

	matcher := match.NewOrchestrator(match.OrchestratorConfig{
		Matches:          repos.Matches,
		Cache:            repos.MatchCache,
		Config:           weightStore,
		Scorers:          match.DefaultScorers(embedder),
		Embeddings:       blobs.Embeddings,
		MaxWorkers:       cfg.Matching.ComponentWorkers,
		ComponentTimeout: cfg.Matching.ComponentTimeout,
		Metrics:          reg,
		Logger:           logger,
	})

	profiles := profile.NewService(profile.ServiceConfig{
		Companies:      repos.Companies,
		Audit:          repos.Audit,
		VectorIndex:    repos.VectorIndex,
		Vectors:        adapter,
		Blobs:          blobs,
		Signer:         signer,
		Queue:          q,
		Logger:         logger,
		MaxUploadBytes: cfg.Profile.MaxUploadBytes,
	})

	optimizer := batch.NewOptimizer(cfg.Batch, logger)
	coordinator := batch.NewCoordinator(batch.CoordinatorConfig{
		Coordinations: repos.Coordination,
		Progress:      repos.Progress,
		Queue:         q,
		Logger:        logger,
	})
	tracker := batch.NewTracker(batch.TrackerConfig{
		Coordinations: repos.Coordination,
		Progress:      repos.Progress,
		Metrics:       reg,
		Logger:        logger,
	})
	failures := batch.NewFailureHandler(batch.FailureHandlerConfig{
		Progress: repos.Progress,
		Tracker:  tracker,
		Metrics:  reg,
		Logger:   logger,
	})
	monitor := batch.NewMonitor(batch.MonitorConfig{
		Coordinations: repos.Coordination,
		Progress:      repos.Progress,
		Metrics:       reg,
		Logger:        logger,
		Batch:         cfg.Batch,
	})
	schedules := batch.NewScheduleManager(logger)
	runner := batch.NewRunner(batch.RunnerConfig{
		Optimizer:     optimizer,
		Coordinator:   coordinator,
		Coordinations: repos.Coordination,
		Progress:      repos.Progress,
		Opportunities: repos.Opportunities,
		Companies:     repos.Companies,
		Logger:        logger,
		Batch:         cfg.Batch,
	})
	schedules.RegisterTarget(batch.TargetNightlyMatch, runner.Target())

	multiLevel := embedding.NewMultiLevel(embedder, model, chunker, blobs.Embeddings, cfg.Embedding.MaxWords, logger)
	profileProc := profile.NewProcessor(profile.ProcessorConfig{
		Companies:   repos.Companies,
		VectorIndex: repos.VectorIndex,
		Vectors:     adapter,
		Blobs:       blobs,
		Extractor:   extractor,
		MultiLevel:  multiLevel,
		Embedder:    embedder,
		LLM:         model,
		Logger:      logger,
	})

	oppProc := opportunity.NewProcessor(opportunity.ProcessorConfig{
		Opportunities: repos.Opportunities,
		VectorIndex:   repos.VectorIndex,
		Vectors:       adapter,
		Embedder:      embedder,
		Extractor:     extractor,
		Chunker:       chunker,
		Blobs:         blobs,
		Fetcher:       opportunity.NewHTTPAttachmentFetcher(nil, cfg.Ingestion.MaxAttachmentBytes),
		Logger:        logger,
	})
	guard := monitoring.NewEmbeddingGuard(monitoring.GuardConfig{
		VectorIndex: repos.VectorIndex,
		Embeddings:  blobs.Embeddings,
		Queue:       q,
		Logger:      logger,
		ModelID:     cfg.Embedding.Model,
		Dimension:   cfg.Embedding.Dimension,
	})
	ingestor := opportunity.NewIngestor(opportunity.IngestorConfig{
		SourceURL: cfg.Ingestion.CSVSourceURL,
		Queue:     q,
		Blobs:     blobs,
		MaxBytes:  cfg.Ingestion.MaxCSVBytes,
		Logger:    logger,
	})

	return &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     reg,
		DB:          db,
		Repos:       repos,
		Cache:       cacheClient,
		Queue:       q,
		Blobs:       blobs,
		Signer:      signer,
		Vector:      adapter,
		Embedder:    embedder,
		LLM:         model,
		Extractor:   extractor,
		Chunker:     chunker,
		Weights:     weightStore,
		Matcher:     matcher,
		Profiles:    profiles,
		Optimizer:   optimizer,
		Coordinator: coordinator,
		Tracker:     tracker,
		Failures:    failures,
		Monitor:     monitor,
		Schedules:   schedules,
		Runner:      runner,
		ProfileProc: profileProc,
		OppProc:     oppProc,
		Ingestor:    ingestor,
		Guard:       guard,
	}, nil
}

// Close releases every handle in reverse construction order.
func (d *Dependencies) Close() {
	d.Schedules.Stop()
	if err := d.Blobs.Close(); err != nil {
		d.Logger.Warn().Err(err).Msg("Closing object store failed")
	}
	if err := d.Queue.Close(); err != nil {
		d.Logger.Warn().Err(err).Msg("Closing queue failed")
	}
	if err := d.Cache.Close(); err != nil {
		d.Logger.Warn().Err(err).Msg("Closing cache failed")
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Warn().Err(err).Msg("Closing database failed")
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	var (
		driver = "sqlite3"
		dsn    = cfg.Database.SQLite.Path
	)
	if cfg.Database.Driver == "postgres" {
		driver = "postgres"
		dsn = cfg.Database.Postgres.DSN
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.Driver == "postgres" {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	} else {
		db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := storage.EnsureSchema(ctx, db, cfg.Database.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func newCache(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   "govmatch",
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}

func newQueue(cfg *config.Config) (queue.Queue, error) {
	opts := queue.Options{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxReceive:        cfg.Queue.MaxReceive,
	}
	if cfg.Queue.Driver == "redis" {
		return queue.NewRedisQueue(queue.RedisQueueConfig{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			PoolSize: cfg.Queue.Redis.PoolSize,
			Prefix:   "govmatch",
		}, opts)
	}
	return queue.NewMemoryQueue(opts), nil
}

func newBlobs(cfg *config.Config) (*objectstore.Buckets, error) {
	if cfg.ObjectStore.Driver == "fs" {
		backend, err := objectstore.NewFSStore(cfg.ObjectStore.Root)
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		return objectstore.NewBuckets(backend), nil
	}
	return objectstore.NewBuckets(objectstore.NewMemoryStore()), nil
}

func newVectorAdapter(ctx context.Context, db *sql.DB, cfg *config.Config) (vector.Adapter, error) {
	if cfg.Vector.Adapter == "pgvector" {
		return vector.NewPGVectorAdapter(ctx, db, vector.PGVectorConfig{
			Dimension: cfg.Vector.Dimension,
			Lists:     cfg.Vector.PGVector.Lists,
		})
	}
	return vector.NewMemoryAdapter(vector.MemoryConfig{Dimension: cfg.Vector.Dimension})
}

// newEmbedder returns the HTTP embedding client when an API key is
// configured, otherwise the deterministic mock so development runs offline.
func newEmbedder(cfg *config.Config, logger *observability.Logger) embedding.Embedder {
	if cfg.Embedding.APIKey == "" {
		return embedding.NewMockClient(cfg.Embedding.Dimension)
	}
	client, err := embedding.NewClient(embedding.Config{
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		MaxWords:  cfg.Embedding.MaxWords,
		Timeout:   cfg.Embedding.Timeout,
		Logger:    logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Embedding client unavailable, using mock")
		return embedding.NewMockClient(cfg.Embedding.Dimension)
	}
	return client
}

func newLLM(cfg *config.Config, logger *observability.Logger) llm.LLM {
	if cfg.LLM.APIKey == "" {
		return llm.NewMockLLM()
	}
	client, err := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("LLM client unavailable, using mock")
		return llm.NewMockLLM()
	}
	return client
}

func newExtractor(cfg *config.Config, blobs *objectstore.Buckets, logger *observability.Logger) *extract.Extractor {
	var ocr extract.OCRClient
	if cfg.OCR.BaseURL != "" {
		client, err := extract.NewHTTPOCR(extract.HTTPOCRConfig{
			BaseURL:        cfg.OCR.BaseURL,
			APIKey:         cfg.OCR.APIKey,
			RequestTimeout: cfg.OCR.RequestTimeout,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("OCR client unavailable, OCR fallback disabled")
		} else {
			ocr = client
		}
	}
	return extract.NewExtractor(extract.Config{
		OCR:          ocr,
		TempStore:    blobs.TempProcessing,
		SyncLimit:    cfg.OCR.SyncLimit,
		PollInterval: cfg.OCR.PollInterval,
		PollTimeout:  cfg.OCR.PollTimeout,
		Logger:       logger,
	})
}
