package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/bookkeeper/internal/cli"
	"github.com/Veraticus/bookkeeper/internal/eval"
	"github.com/Veraticus/bookkeeper/internal/service"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <labeled.csv>",
		Short: "Measure classifier quality against a labeled set",
		Long: `Classify every row of a labeled CSV (id, date, payee, amount, label, and optionally
memo and account) and report per-category precision, recall and F1. Nothing is recorded.

Examples:
  bookkeeper evaluate benchmark.csv
  bookkeeper evaluate benchmark.csv --source statistical --output report.csv`,
		Args: cobra.ExactArgs(1),
		RunE: runEvaluate,
	}

	cmd.Flags().String("source", "ensemble", "Classifier to evaluate (ensemble, rule, statistical, llm)")
	cmd.Flags().String("output", "", "Write the per-category report as CSV to this file")
	cmd.Flags().String("quicken", "", "Quicken file or package used for history and training (default: paths.quicken)")
	cmd.Flags().Bool("no-llm", false, "Do not consult the language model")

	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	sourceName, _ := cmd.Flags().GetString("source")
	output, _ := cmd.Flags().GetString("output")
	noLLM, _ := cmd.Flags().GetBool("no-llm")

	examples, err := eval.LoadLabeledFile(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	overrideQuicken(cmd, &cfg)

	src, err := loadTransactions(ctx, nil, cfg.Paths.Quicken, service.TransactionFilter{})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{transactions: src.transactions, taxonomy: src.categories, refresh: true, noLLM: noLLM})
	if err != nil {
		return err
	}
	defer a.Close()

	classifier, err := a.source(sourceName)
	if err != nil {
		return err
	}
	harness, err := a.harness()
	if err != nil {
		return err
	}

	report, err := harness.Evaluate(ctx, classifier, examples)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, cli.RenderReport(report))

	if output == "" {
		return nil
	}
	f, err := os.Create(output) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Failed to close report file", "error", err)
		}
	}()
	if err := eval.WriteReportCSV(f, report); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess("Report written to "+output))
	return nil
}
