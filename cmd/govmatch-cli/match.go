package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/batch"
	"github.com/govmatch-ai/govmatch/internal/match"
)

// newMatchCmd creates the match command group.
func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run and inspect opportunity matches",
	}
	cmd.AddCommand(newMatchRunCmd())
	cmd.AddCommand(newMatchListCmd())
	cmd.AddCommand(newMatchScoreCmd())
	return cmd
}

// newMatchRunCmd triggers the nightly coordination and drains the scoring
// queue in-process.
func newMatchRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the nightly match coordination locally",
		Long: `Run dispatches every (company, active opportunity) pair into a
coordinated batch run, scores the batches in-process, and waits for the
coordination to complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				type runOutcome struct {
					result *batch.RunResult
					err    error
				}
				done := make(chan runOutcome, 1)
				go func() {
					result, err := deps.Runner.RunNightly(ctx)
					done <- runOutcome{result: result, err: err}
				}()

				// Score dispatched batches until the run settles.
				var stats drainStats
				var outcome runOutcome
			loop:
				for {
					select {
					case outcome = <-done:
						break loop
					default:
						s, err := drainMatchPairs(ctx, deps, nil)
						if err != nil {
							logger.Warn().Err(err).Msg("Queue drain failed")
						}
						stats.Processed += s.Processed
						stats.Failed += s.Failed
						time.Sleep(200 * time.Millisecond)
					}
				}
				if outcome.err != nil {
					return fmt.Errorf("nightly run failed: %w", outcome.err)
				}

				result := outcome.result
				ui.Success("Coordination %s finished: %s", result.CoordinationID, result.Status)
				ui.KeyValue("Pairs scored", stats.Processed)
				ui.KeyValue("Pair errors", stats.Failed)
				ui.KeyValue("Batch size", result.BatchSize)
				ui.KeyValue("Batches", result.TotalBatches)
				ui.KeyValue("Duration", FormatDuration(result.Duration))
				ui.JSON(result)
				return nil
			})
		},
	}
	return cmd
}

// newMatchListCmd lists stored results for a company.
func newMatchListCmd() *cobra.Command {
	var (
		companyID string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored match results for a company, best score first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				results, err := deps.Repos.Matches.ListByCompany(ctx, companyID, limit, offset)
				if err != nil {
					return fmt.Errorf("list matches: %w", err)
				}
				if ui.JSON(results) {
					return nil
				}

				rows := make([][]string, 0, len(results))
				for _, r := range results {
					rows = append(rows, []string{
						r.OpportunityID,
						fmt.Sprintf("%.3f", r.TotalScore),
						string(r.Confidence),
						strconv.FormatBool(r.Cached),
						r.UpdatedAt.Format("2006-01-02 15:04"),
					})
				}
				ui.Table([]string{"NOTICE", "SCORE", "CONFIDENCE", "CACHED", "UPDATED"}, rows)
				ui.Info("%d results for company %s", len(results), companyID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

// newMatchScoreCmd scores one pair on demand.
func newMatchScoreCmd() *cobra.Command {
	var (
		tenantID  string
		companyID string
		noticeID  string
		useCache  bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one (company, opportunity) pair on demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				opp, err := deps.Repos.Opportunities.GetByNoticeID(ctx, noticeID)
				if err != nil {
					return fmt.Errorf("load notice %s: %w", noticeID, err)
				}
				company, err := deps.Repos.Companies.GetByID(ctx, tenantID, companyID)
				if err != nil {
					return fmt.Errorf("load company %s: %w", companyID, err)
				}

				stop := waitSpinner("Scoring...")
				result, err := deps.Matcher.Match(ctx, match.Request{
					Opportunity: opp,
					Profile:     company,
					UseCache:    useCache,
				})
				stop()
				if err != nil {
					return fmt.Errorf("scoring failed: %w", err)
				}
				if ui.JSON(result) {
					return nil
				}

				ui.Section("Match Result")
				ui.KeyValue("Notice", result.OpportunityID)
				ui.KeyValue("Company", result.CompanyID)
				ui.KeyValue("Score", fmt.Sprintf("%.3f", result.TotalScore))
				ui.KeyValue("Confidence", result.Confidence)
				ui.KeyValue("Cached", result.Cached)

				rows := make([][]string, 0, len(result.ComponentScores))
				for name, comp := range result.ComponentScores {
					rows = append(rows, []string{
						name,
						fmt.Sprintf("%.3f", comp.Score),
						comp.Status,
					})
				}
				ui.Table([]string{"COMPONENT", "SCORE", "STATUS"}, rows)
				for _, reason := range result.MatchReasons {
					ui.Step("%s", reason)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "dev", "tenant ID")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&noticeID, "notice", "", "notice ID (required)")
	cmd.Flags().BoolVar(&useCache, "cache", true, "serve from the match cache when fresh")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("notice")
	return cmd
}
