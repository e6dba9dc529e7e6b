package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
)

// newPurgeCmd creates the purge subcommand.
func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired cache, progress, and audit rows",
		Long: `Purge deletes rows whose retention window has lapsed: cached match
results past their TTL, batch progress rows past theirs, and audit records
past the audit retention period. Superseded weight-configuration versions
expire on their own timestamps and are swept by the same pass.

The operation only touches rows the retention policy already marked
expired; it never deletes live data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				cache, err := deps.Repos.MatchCache.PurgeExpired(ctx)
				if err != nil {
					ui.Error("Match cache purge failed: %v", err)
				}
				progress, err := deps.Repos.Progress.PurgeExpired(ctx)
				if err != nil {
					ui.Error("Progress purge failed: %v", err)
				}
				audit, err := deps.Repos.Audit.PurgeExpired(ctx)
				if err != nil {
					ui.Error("Audit purge failed: %v", err)
				}

				ui.Success("Purged %d cache, %d progress, %d audit rows", cache, progress, audit)
				ui.JSON(map[string]int64{
					"match_cache": cache,
					"progress":    progress,
					"audit":       audit,
				})
				return nil
			})
		},
	}
	return cmd
}
