// The govmatch-worker binary drains the processing queues: opportunity
// ingestion batches, uploaded company documents, coordinated match-scoring
// batches, and profile re-embeds.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/observability"
)

func main() {
	// Optional .env for local development; env overrides still win.
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "govmatch-worker",
	})

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("queue", cfg.Queue.Driver).
		Str("vector", cfg.Vector.Adapter).
		Msg("Starting GovMatch worker")

	deps, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to assemble dependencies")
		os.Exit(1)
	}
	defer deps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Validate stored profile embeddings before taking work; stale or
	// corrupt vectors get re-embed messages queued.
	if report, err := deps.Guard.ScanProfiles(ctx); err != nil {
		logger.Warn().Err(err).Msg("Embedding scan failed")
	} else {
		logger.Info().
			Int("scanned", report.Scanned).
			Int("stale", report.Stale).
			Int("invalid", report.Invalid).
			Int("queued", report.Queued).
			Msg("Embedding scan complete")
	}

	worker := NewWorker(deps)
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	cancel()
	<-done
	logger.Info().Msg("Worker stopped")
}
