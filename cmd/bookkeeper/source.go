package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Veraticus/bookkeeper/internal/config"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/ofx"
	"github.com/Veraticus/bookkeeper/internal/quicken"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// loaded is everything read from a transaction source.
type loaded struct {
	transactions []model.Transaction
	categories   []string
}

// loadTransactions reads OFX files when given, otherwise the Quicken file. No source at all
// yields an empty result.
func loadTransactions(ctx context.Context, ofxPaths []string, quickenPath string, filter service.TransactionFilter) (loaded, error) {
	var src service.TransactionSource
	switch {
	case len(ofxPaths) > 0:
		src = ofx.NewFileSource(ofx.NewParser(slog.Default()), ofxPaths...)
	case quickenPath != "":
		reader, err := quicken.OpenReader(quickenPath, slog.Default())
		if err != nil {
			return loaded{}, fmt.Errorf("failed to open Quicken file: %w", err)
		}
		defer func() {
			if err := reader.Close(); err != nil {
				slog.Warn("Failed to close Quicken file", "error", err)
			}
		}()
		src = reader
	default:
		return loaded{}, nil
	}

	txns, err := src.ReadTransactions(ctx, filter)
	if err != nil {
		return loaded{}, fmt.Errorf("failed to read transactions: %w", err)
	}
	categories, err := src.Categories(ctx)
	if err != nil {
		return loaded{}, fmt.Errorf("failed to read categories: %w", err)
	}

	slog.Info("Loaded transactions", "count", len(txns), "categories", len(categories))
	return loaded{transactions: txns, categories: categories}, nil
}

// overrideQuicken applies a --quicken flag over paths.quicken.
func overrideQuicken(cmd *cobra.Command, cfg *config.Config) {
	if path, _ := cmd.Flags().GetString("quicken"); path != "" {
		cfg.Paths.Quicken = config.ExpandPath(path)
	}
}

func findTransaction(txns []model.Transaction, id string) (model.Transaction, bool) {
	for _, txn := range txns {
		if txn.ID == id {
			return txn, true
		}
	}
	return model.Transaction{}, false
}

// serveMetrics exposes the prometheus registry on addr until the returned stop is called.
func serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("Failed to stop metrics server", "error", err)
		}
	}
}
