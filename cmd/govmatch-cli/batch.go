package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// newBatchCmd creates the batch command group.
func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect batch coordinations",
	}
	cmd.AddCommand(newBatchStatusCmd())
	cmd.AddCommand(newBatchHealthCmd())
	return cmd
}

// newBatchStatusCmd shows one coordination, optionally following it until
// it settles.
func newBatchStatusCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status <coordination-id>",
		Short: "Show one coordination's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coordinationID := args[0]
			ctx := context.Background()

			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				rec, err := deps.Repos.Coordination.GetByID(ctx, coordinationID)
				if err != nil {
					return fmt.Errorf("load coordination: %w", err)
				}

				if watch && !outputJSON {
					return watchCoordination(ctx, deps, ui, rec)
				}
				if ui.JSON(rec) {
					return nil
				}
				printCoordination(ui, rec)

				batches, err := deps.Repos.Progress.ListByCoordination(ctx, coordinationID)
				if err != nil {
					return fmt.Errorf("list batches: %w", err)
				}
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					rows = append(rows, []string{
						b.BatchID,
						string(b.Status),
						fmt.Sprintf("%d/%d", b.ItemsProcessed, b.ItemsTotal),
						strconv.Itoa(b.ErrorsCount),
						strconv.Itoa(b.RetryCount),
					})
				}
				ui.Table([]string{"BATCH", "STATUS", "ITEMS", "ERRORS", "RETRIES"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow progress until the coordination settles")
	return cmd
}

// watchCoordination renders a live progress bar until the coordination
// reaches a terminal status.
func watchCoordination(ctx context.Context, deps *app.Dependencies, ui *UI, rec *storage.CoordinationRecord) error {
	bar := ui.ProgressBar("batches", int64(rec.TotalBatches))
	for {
		settled := rec.Status == storage.CoordinationStatusCompleted ||
			rec.Status == storage.CoordinationStatusCompletedWithErrors ||
			rec.Status == storage.CoordinationStatusFailed
		if bar != nil {
			bar.SetCurrent(int64(rec.CompletedBatches + rec.FailedBatches))
		}
		if settled {
			if bar != nil {
				bar.SetTotal(int64(rec.TotalBatches), true)
			}
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}

		updated, err := deps.Repos.Coordination.GetByID(ctx, rec.CoordinationID)
		if err != nil {
			return fmt.Errorf("refresh coordination: %w", err)
		}
		rec = updated
	}
	printCoordination(ui, rec)
	return nil
}

func printCoordination(ui *UI, rec *storage.CoordinationRecord) {
	ui.Section("Coordination " + rec.CoordinationID)
	ui.KeyValue("Type", rec.ProcessingType)
	ui.KeyValue("Status", rec.Status)
	ui.KeyValue("Batches", fmt.Sprintf("%d completed, %d failed, %d processing of %d",
		rec.CompletedBatches, rec.FailedBatches, rec.ProcessingBatches, rec.TotalBatches))
	ui.KeyValue("Items", fmt.Sprintf("%d/%d (%d errors)",
		rec.TotalItemsProcessed, rec.TotalItems, rec.TotalErrors))
	ui.KeyValue("Progress", fmt.Sprintf("%.1f%%", rec.ProgressPercentage))
	ui.KeyValue("Started", rec.StartedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		ui.KeyValue("Completed", rec.CompletedAt.Format(time.RFC3339))
	}
}

// newBatchHealthCmd scans recent coordinations for stalls and failures.
func newBatchHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report on recent coordinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				report, err := deps.Monitor.Scan(ctx)
				if err != nil {
					return fmt.Errorf("health scan: %w", err)
				}
				if ui.JSON(report) {
					return nil
				}

				ui.Section("Batch Health")
				ui.KeyValue("Window", report.Window.String())
				ui.KeyValue("Healthy", report.Healthy)
				ui.KeyValue("Degraded", report.Degraded)
				ui.KeyValue("Stalled", report.Stalled)
				ui.KeyValue("Errored", report.Errored)

				rows := make([][]string, 0, len(report.Coordinations))
				for _, c := range report.Coordinations {
					rows = append(rows, []string{
						c.Record.CoordinationID,
						c.Record.ProcessingType,
						string(c.State),
						fmt.Sprintf("%.1f%%", c.Record.ProgressPercentage),
						strconv.Itoa(c.StalledBatches),
					})
				}
				ui.Table([]string{"COORDINATION", "TYPE", "STATE", "PROGRESS", "STALLED"}, rows)
				return nil
			})
		},
	}
	return cmd
}
