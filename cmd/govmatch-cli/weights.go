package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/weights"
)

// newWeightsCmd creates the weights command group.
func newWeightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect and tune scoring weight configuration",
	}
	cmd.AddCommand(newWeightsGetCmd())
	cmd.AddCommand(newWeightsSetCmd())
	cmd.AddCommand(newWeightsResetCmd())
	cmd.AddCommand(newWeightsHistoryCmd())
	return cmd
}

func operatorName() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "cli"
}

func newWeightsGetCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the effective weight configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				config, source, err := deps.Weights.Resolve(ctx, tenantID)
				if err != nil {
					return fmt.Errorf("resolve weights: %w", err)
				}
				if ui.JSON(map[string]any{"config": config, "source": source}) {
					return nil
				}

				ui.Section("Weight Configuration")
				ui.KeyValue("Source", source)
				ui.KeyValue("Version", config.Version)
				ui.KeyValue("Updated by", config.UpdatedBy)

				rows := make([][]string, 0, len(config.Weights))
				for component, weight := range config.Weights {
					rows = append(rows, []string{component, fmt.Sprintf("%.2f", weight)})
				}
				ui.Table([]string{"COMPONENT", "WEIGHT"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID (empty for the global configuration)")
	return cmd
}

func newWeightsSetCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "set component=weight [component=weight ...]",
		Short: "Merge weight changes into a tenant's configuration",
		Long: `Set merges the given component weights into the tenant configuration
(or the global one with no --tenant). The merged weights must still sum
to 1.0 within tolerance or the update is rejected.

Example:
  govmatch-cli weights set semantic_similarity=0.35 keyword_match=0.10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes := make(map[string]float64, len(args))
			for _, arg := range args {
				name, value, found := strings.Cut(arg, "=")
				if !found {
					return fmt.Errorf("expected component=weight, got %q", arg)
				}
				weight, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return fmt.Errorf("invalid weight %q: %w", value, err)
				}
				changes[name] = weight
			}

			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				config, err := deps.Weights.Update(ctx, tenantID, weights.Update{Weights: changes}, operatorName())
				if err != nil {
					return fmt.Errorf("update weights: %w", err)
				}
				ui.Success("Weight configuration updated to version %d", config.Version)
				ui.JSON(config)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID (empty for the global configuration)")
	return cmd
}

func newWeightsResetCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove a tenant's override, falling back to global defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				if err := deps.Weights.Reset(ctx, tenantID, operatorName()); err != nil {
					return fmt.Errorf("reset weights: %w", err)
				}
				ui.Success("Weight configuration reset")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID (empty for the global configuration)")
	return cmd
}

func newWeightsHistoryCmd() *cobra.Command {
	var (
		tenantID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show prior configuration versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withDeps(ctx, func(deps *app.Dependencies) error {
				ui := NewUI(outputJSON, noColor)
				defer ui.Close()

				versions, err := deps.Weights.History(ctx, tenantID, limit)
				if err != nil {
					return fmt.Errorf("load history: %w", err)
				}
				if ui.JSON(versions) {
					return nil
				}

				rows := make([][]string, 0, len(versions))
				for _, v := range versions {
					expires := "-"
					if v.ExpiresAt != nil {
						expires = v.ExpiresAt.Format("2006-01-02")
					}
					rows = append(rows, []string{
						strconv.Itoa(v.Version),
						v.UpdatedBy,
						v.Timestamp.Format(time.RFC3339),
						expires,
					})
				}
				ui.Table([]string{"VERSION", "UPDATED BY", "TIMESTAMP", "EXPIRES"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID (empty for the global configuration)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max versions to show")
	return cmd
}
