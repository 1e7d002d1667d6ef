// Package main contains the bookkeeper CLI commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/bookkeeper/internal/cli"
	"github.com/Veraticus/bookkeeper/internal/engine"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/quicken"
	"github.com/Veraticus/bookkeeper/internal/service"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Suggest categories for uncategorized transactions",
		Long: `Classify every uncategorized transaction and review the suggestions.

Transactions come from the configured Quicken file, or from OFX/QFX downloads with --ofx.
Already-categorized transactions are used as payee history and training data. Suggestions
at or above engine.auto_accept_threshold are accepted without a prompt.

Examples:
  bookkeeper classify                          # Review suggestions, record decisions
  bookkeeper classify --from 2024-01-01        # Only transactions from 2024 onwards
  bookkeeper classify --apply                  # Also write accepted categories to Quicken
  bookkeeper classify --ofx march.qfx --dry-run`,
		RunE: runClassify,
	}

	cmd.Flags().StringSlice("ofx", nil, "OFX/QFX files to classify instead of the Quicken file")
	cmd.Flags().String("quicken", "", "Quicken file or package (default: paths.quicken)")
	cmd.Flags().String("from", "", "Only classify transactions on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Only classify transactions on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringSlice("account-type", nil, "Only read accounts of these types")
	cmd.Flags().Bool("apply", false, "Write accepted categories back to the Quicken file (after a backup)")
	cmd.Flags().Bool("dry-run", false, "Print decisions without reviewing, recording or writing anything")
	cmd.Flags().Bool("no-llm", false, "Do not consult the language model")
	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address while running")

	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ofxPaths, _ := cmd.Flags().GetStringSlice("ofx")
	fromFlag, _ := cmd.Flags().GetString("from")
	toFlag, _ := cmd.Flags().GetString("to")
	accountTypes, _ := cmd.Flags().GetStringSlice("account-type")
	apply, _ := cmd.Flags().GetBool("apply")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noLLM, _ := cmd.Flags().GetBool("no-llm")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	from, err := parseDate(fromFlag, false)
	if err != nil {
		return err
	}
	to, err := parseDate(toFlag, true)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	overrideQuicken(cmd, &cfg)
	if apply && (len(ofxPaths) > 0 || cfg.Paths.Quicken == "") {
		return fmt.Errorf("--apply needs a Quicken file to write to")
	}

	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr)
		defer stop()
	}

	// History and seeds use every transaction; the date range only limits what is classified.
	src, err := loadTransactions(ctx, ofxPaths, cfg.Paths.Quicken, service.TransactionFilter{AccountTypes: accountTypes})
	if err != nil {
		return err
	}
	if len(src.transactions) == 0 {
		return fmt.Errorf("no transactions found; set paths.quicken or pass --ofx")
	}

	pending := uncategorized(src.transactions, service.TransactionFilter{StartDate: from, EndDate: to})
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(out, cli.FormatSuccess("Nothing to classify."))
		return nil
	}

	a, err := newApp(ctx, cfg, appOptions{
		transactions: src.transactions,
		taxonomy:     src.categories,
		refresh:      true,
		noLLM:        noLLM,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	_, _ = fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Classifying %d transactions", len(pending))))

	batch, runErr := a.engine.Run(ctx, pending, a.history, progress(out, len(pending)))
	if batch == nil {
		return runErr
	}
	_, _ = fmt.Fprintln(out, cli.RenderBatchSummary(batch.Summary))
	for _, d := range batch.Diagnostics {
		_, _ = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Skipped %s: %v", d.TransactionID, d.Err)))
	}
	if runErr != nil {
		return runErr
	}

	if dryRun {
		for _, r := range batch.Results {
			_, _ = fmt.Fprintln(out, cli.RenderDecisionLine(r))
		}
		_, _ = fmt.Fprintln(out, cli.FormatInfo("Dry run: nothing was recorded or written."))
		return nil
	}

	updates, err := review(ctx, cmd.InOrStdin(), out, a, batch.Results)
	if err != nil {
		return err
	}

	if !apply || len(updates) == 0 {
		return nil
	}
	// Decisions already in the correction log are written even after an interrupt.
	return applyUpdates(context.WithoutCancel(ctx), out, a, updates)
}

func uncategorized(txns []model.Transaction, filter service.TransactionFilter) []model.Transaction {
	var out []model.Transaction
	for _, txn := range txns {
		if txn.Category != "" {
			continue
		}
		if filter.StartDate != nil && txn.Date.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && txn.Date.After(*filter.EndDate) {
			continue
		}
		out = append(out, txn)
	}
	return out
}

func progress(w io.Writer, total int) engine.ProgressFunc {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[green][bold]Classifying transactions...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
	return func(done, _ int) {
		if err := bar.Set(done); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}
}

// review walks the operator through every result and records each decision. It returns the
// categories to write back, keyed by transaction id.
func review(ctx context.Context, in io.Reader, out io.Writer, a *app, results []engine.Result) (map[string]string, error) {
	interrupts := cli.NewInterruptHandler(out)
	ctx = interrupts.HandleInterrupts(ctx, true)

	reviewer := cli.NewReviewer(in, out, a.taxonomy)
	reviewer.Start(len(results))
	defer reviewer.ShowCompletion()

	updates := make(map[string]string)
	for _, r := range results {
		verdict, err := reviewer.Review(ctx, r)
		switch {
		case errors.Is(err, cli.ErrInputClosed), errors.Is(err, cli.ErrInputCancelled), ctx.Err() != nil:
			slog.Info("Review stopped early", "reviewed", len(updates))
			return updates, nil
		case err != nil:
			return nil, err
		}
		if verdict.Action == cli.ActionSkip {
			continue
		}

		outcome, err := a.loop.Record(ctx, r.Transaction.ID, r.Decision.Category, verdict.Category, r.Features)
		if err != nil {
			return nil, fmt.Errorf("failed to record decision for %s: %w", r.Transaction.ID, err)
		}
		if outcome.Retrained && outcome.RetrainErr == nil && outcome.Retrain.Swapped {
			slog.Debug("Statistical model retrained",
				"examples", outcome.Retrain.Examples,
				"generation", a.handle.Generation())
		}
		updates[r.Transaction.ID] = verdict.Category
	}
	return updates, nil
}

func applyUpdates(ctx context.Context, out io.Writer, a *app, updates map[string]string) error {
	w, err := quicken.OpenWriter(a.cfg.Paths.Quicken, quicken.WriterOptions{
		Logger:    slog.Default(),
		BackupDir: a.cfg.Paths.BackupDir,
	})
	if err != nil {
		return fmt.Errorf("failed to open Quicken file for writing: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Error("Failed to close Quicken file", "error", err)
		}
	}()

	results, err := w.UpdateCategories(ctx, updates)
	if err != nil {
		return fmt.Errorf("failed to write categories: %w", err)
	}

	written := 0
	for id, ok := range results {
		if ok {
			written++
			continue
		}
		_, _ = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Could not update %s", id)))
	}
	if backup := w.LastBackup(); backup != "" {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("Backup written to "+backup))
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Updated %d of %d transactions", written, len(updates))))
	return nil
}
