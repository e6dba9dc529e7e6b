package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
)

// newScheduleCmd creates the schedule command group.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron schedules for batch targets",
	}
	cmd.AddCommand(newScheduleListCmd())
	cmd.AddCommand(newScheduleCreateCmd())
	cmd.AddCommand(newScheduleDeleteCmd())
	cmd.AddCommand(newScheduleTriggerCmd())
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				schedules := deps.Schedules.List()
				if ui.JSON(schedules) {
					return nil
				}
				rows := make([][]string, 0, len(schedules))
				for _, s := range schedules {
					rows = append(rows, []string{
						s.Name,
						s.Expression,
						s.Target,
						s.NextRun.Format(time.RFC3339),
					})
				}
				ui.Table([]string{"NAME", "EXPRESSION", "TARGET", "NEXT RUN"}, rows)
				return nil
			})
		},
	}
}

func newScheduleCreateCmd() *cobra.Command {
	var (
		expression string
		target     string
		input      string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a schedule",
		Long: `Create registers a cron schedule against a known batch target.
Expressions use standard five-field cron syntax, for example "0 2 * * *"
for 2 AM daily.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				var raw json.RawMessage
				if input != "" {
					if !json.Valid([]byte(input)) {
						return fmt.Errorf("--input must be valid JSON")
					}
					raw = json.RawMessage(input)
				}
				schedule, err := deps.Schedules.Create(args[0], expression, target, raw)
				if err != nil {
					return fmt.Errorf("create schedule: %w", err)
				}
				ui.Success("Schedule %s created, next run %s", schedule.Name, schedule.NextRun.Format(time.RFC3339))
				ui.JSON(schedule)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&expression, "cron", "", "cron expression (required)")
	cmd.Flags().StringVar(&target, "target", "", "batch target name (required)")
	cmd.Flags().StringVar(&input, "input", "", "JSON input passed to the target")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newScheduleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				if err := deps.Schedules.Delete(args[0]); err != nil {
					return fmt.Errorf("delete schedule: %w", err)
				}
				ui.Success("Schedule %s deleted", args[0])
				return nil
			})
		},
	}
}

func newScheduleTriggerCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "trigger <name>",
		Short: "Run a schedule's target immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				var raw json.RawMessage
				if input != "" {
					if !json.Valid([]byte(input)) {
						return fmt.Errorf("--input must be valid JSON")
					}
					raw = json.RawMessage(input)
				}
				execution, err := deps.Schedules.Trigger(ctx, args[0], raw)
				if err != nil {
					return fmt.Errorf("trigger schedule: %w", err)
				}
				ui.Success("Triggered %s (target %s, handle %s)", execution.Schedule, execution.Target, execution.Handle)
				ui.JSON(execution)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "JSON input overriding the schedule's stored input")
	return cmd
}
