package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/bookkeeper/internal/cli"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <transaction-id> <category>",
		Short: "Record the correct category for a transaction",
		Long: `Record an operator decision in the correction log.

The transaction is looked up in the Quicken file unless --payee is given, in which case it
is described by the flags instead. The statistical model retrains according to
learning.retrain_every.`,
		Args: cobra.ExactArgs(2),
		RunE: runCorrect,
	}

	cmd.Flags().String("suggested", "", "Category that was suggested, if any")
	cmd.Flags().String("quicken", "", "Quicken file or package (default: paths.quicken)")
	cmd.Flags().String("payee", "", "Payee of a transaction that is not in the Quicken file")
	cmd.Flags().Float64("amount", 0, "Signed amount (with --payee)")
	cmd.Flags().String("date", "", "Date YYYY-MM-DD (with --payee)")
	cmd.Flags().String("memo", "", "Memo (with --payee)")
	cmd.Flags().String("account", "", "Account name (with --payee)")

	return cmd
}

func runCorrect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	id, category := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	suggested, _ := cmd.Flags().GetString("suggested")
	payee, _ := cmd.Flags().GetString("payee")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	overrideQuicken(cmd, &cfg)

	src, err := loadTransactions(ctx, nil, cfg.Paths.Quicken, service.TransactionFilter{})
	if err != nil {
		return err
	}

	var txn model.Transaction
	if payee != "" {
		txn, err = describedTransaction(cmd, id, payee)
		if err != nil {
			return err
		}
	} else {
		var found bool
		txn, found = findTransaction(src.transactions, id)
		if !found {
			return fmt.Errorf("transaction %s not found; describe it with --payee", id)
		}
	}

	a, err := newApp(ctx, cfg, appOptions{transactions: src.transactions, taxonomy: src.categories, noLLM: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.taxonomy != nil && a.taxonomy.Len() > 0 {
		canonical, ok := a.taxonomy.Canonical(category)
		if !ok {
			return fmt.Errorf("unknown category %q", category)
		}
		category = canonical
	}

	bundle, err := a.extractor.Extract(txn, a.history)
	if err != nil {
		return err
	}

	outcome, err := a.loop.Record(ctx, txn.ID, suggested, category, bundle)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Recorded %s → %s (correction %s)", txn.ID, category, outcome.Correction.ID)))
	switch {
	case !outcome.Retrained:
	case outcome.RetrainErr != nil:
		_, _ = fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Model not retrained: %v", outcome.RetrainErr)))
	case outcome.Retrain.Swapped:
		_, _ = fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Model retrained on %d examples", outcome.Retrain.Examples)))
	}
	return nil
}

func describedTransaction(cmd *cobra.Command, id, payee string) (model.Transaction, error) {
	amount, _ := cmd.Flags().GetFloat64("amount")
	dateFlag, _ := cmd.Flags().GetString("date")
	memo, _ := cmd.Flags().GetString("memo")
	account, _ := cmd.Flags().GetString("account")

	date, err := parseDate(dateFlag, false)
	if err != nil {
		return model.Transaction{}, err
	}
	if date == nil {
		return model.Transaction{}, fmt.Errorf("--date is required with --payee")
	}

	return model.Transaction{
		ID:          id,
		Date:        *date,
		Payee:       payee,
		Memo:        memo,
		AccountName: account,
		AccountID:   account,
		Amount:      amount,
	}, nil
}
