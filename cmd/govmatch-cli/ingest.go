package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/opportunity"
)

// newIngestCmd creates the ingest subcommand.
func newIngestCmd() *cobra.Command {
	var (
		sourceURL string
		filePath  string
		process   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a SAM.gov CSV feed into the opportunity store",
		Long: `Ingest downloads the configured CSV feed (or reads a local file),
normalizes rows, and enqueues them in deduplicated batches.

With --process the queued batches are drained in-process, which is how
single-node deployments run without a worker fleet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				ingestor := deps.Ingestor
				switch {
				case filePath != "":
					ingestor = opportunity.NewIngestor(opportunity.IngestorConfig{
						SourceURL:  "http://local.file/feed.csv",
						AllowHTTP:  true,
						HTTPClient: &http.Client{Transport: fileTransport{path: filePath}},
						Queue:      deps.Queue,
						Blobs:      deps.Blobs,
						MaxBytes:   cfg.Ingestion.MaxCSVBytes,
						Logger:     logger,
					})
				case sourceURL != "":
					ingestor = opportunity.NewIngestor(opportunity.IngestorConfig{
						SourceURL: sourceURL,
						Queue:     deps.Queue,
						Blobs:     deps.Blobs,
						MaxBytes:  cfg.Ingestion.MaxCSVBytes,
						Logger:    logger,
					})
				}

				stop := waitSpinner("Downloading and parsing feed...")
				result, err := ingestor.Run(ctx)
				stop()
				if err != nil {
					return fmt.Errorf("ingestion failed: %w", err)
				}

				ui.Success("Parsed %d rows in %s (%d queued, %d discarded, %d parse errors)",
					result.RowsParsed, FormatDuration(result.Duration),
					result.RowsQueued, result.RowsDiscarded, result.ParseErrors)
				ui.Info("Batches: %d sent, %d deduplicated", result.BatchesSent, result.BatchesDeduped)

				if !process {
					ui.JSON(result)
					return nil
				}

				bar := newItemsBar(int64(result.RowsQueued), "Processing opportunities")
				stats, err := drainOpportunityBatches(ctx, deps, bar)
				_ = bar.Finish()
				if err != nil {
					return fmt.Errorf("processing failed: %w", err)
				}
				ui.Success("Processed %d opportunities (%d failed)", stats.Processed, stats.Failed)
				ui.JSON(map[string]any{"ingest": result, "process": stats})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sourceURL, "url", "", "override the configured CSV feed URL")
	cmd.Flags().StringVar(&filePath, "file", "", "ingest a local CSV file instead of downloading")
	cmd.Flags().BoolVar(&process, "process", false, "drain queued batches in-process after enqueueing")
	return cmd
}

// fileTransport serves one local file to the ingestor's HTTP client so the
// download path stays uniform.
type fileTransport struct {
	path string
}

func (t fileTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
		Header:        make(http.Header),
	}, nil
}
