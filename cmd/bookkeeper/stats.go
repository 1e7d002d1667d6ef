package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/bookkeeper/internal/cli"
	"github.com/Veraticus/bookkeeper/internal/learning"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show how often suggestions were accepted",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	cmd.Flags().Int("retrains", 5, "Number of recent retrains to show")
	return cmd
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("retrains")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{noLLM: true})
	if err != nil {
		return err
	}
	defer a.Close()

	log, err := a.loop.Tracker().Corrections(ctx)
	if err != nil {
		return err
	}
	runs, err := a.store.ListRetrains(ctx, limit)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderSummary(learning.Summarize(log), runs))
	return nil
}
