package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/bookkeeper/internal/cli"
	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/service"
)

func retrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Retrain the statistical model from the correction log",
		Long: `Rebuild the training corpus from the correction log plus every categorized transaction
in the Quicken file, and swap in a new model when the corpus changed.`,
		Args: cobra.NoArgs,
		RunE: runRetrain,
	}
	cmd.Flags().String("quicken", "", "Quicken file or package (default: paths.quicken)")
	return cmd
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	overrideQuicken(cmd, &cfg)

	src, err := loadTransactions(ctx, nil, cfg.Paths.Quicken, service.TransactionFilter{})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{transactions: src.transactions, taxonomy: src.categories, noLLM: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.loop.Retrain(ctx)
	switch {
	case errors.Is(err, common.ErrCorpusTooSmall):
		_, _ = fmt.Fprintln(out, cli.FormatWarning(err.Error()))
		return nil
	case err != nil:
		return err
	case !result.Swapped:
		_, _ = fmt.Fprintln(out, cli.FormatInfo("Model is already up to date."))
	default:
		_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Model retrained on %d examples across %d categories in %s",
			result.Examples, result.Categories, result.Duration)))
	}
	return nil
}
