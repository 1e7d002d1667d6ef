package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/config"
	"github.com/Veraticus/bookkeeper/internal/engine"
	"github.com/Veraticus/bookkeeper/internal/ensemble"
	"github.com/Veraticus/bookkeeper/internal/eval"
	"github.com/Veraticus/bookkeeper/internal/features"
	"github.com/Veraticus/bookkeeper/internal/learning"
	"github.com/Veraticus/bookkeeper/internal/llm"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/rules"
	"github.com/Veraticus/bookkeeper/internal/service"
	"github.com/Veraticus/bookkeeper/internal/stats"
	"github.com/Veraticus/bookkeeper/internal/storage"
)

// app holds every wired component for one command invocation.
type app struct {
	cfg       config.Config
	store     *storage.SQLiteStore
	snapshots *storage.SnapshotStore
	extractor *features.Extractor
	history   *features.History
	handle    *stats.Handle
	loop      *learning.Loop
	taxonomy  *model.Taxonomy
	rules     *rules.Classifier
	llm       *llm.Classifier
	engine    *engine.ClassificationEngine
}

// appOptions carries what the command learned from its transaction source.
type appOptions struct {
	transactions []model.Transaction // categorized ones become history and training seeds
	taxonomy     []string
	refresh      bool // retrain at startup as well as restoring the last snapshot
	noLLM        bool
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newApp opens the correction log and model store, restores the last model and builds the
// engine over every configured source.
func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	logger := slog.Default()

	a := &app{cfg: cfg, extractor: features.NewExtractor()}
	a.history = a.extractor.NewHistory(opts.transactions)

	var err error
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.store, err = storage.NewSQLiteStore(cfg.Paths.CorrectionsDB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open correction log: %w", err)
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.snapshots, err = storage.OpenSnapshotStore(cfg.Paths.ModelStore, storage.DefaultSnapshotRetention)
	if err != nil {
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}

	labels := append(append([]string{}, cfg.Categories...), opts.taxonomy...)
	if len(labels) > 0 {
		a.taxonomy = model.NewTaxonomy(labels...)
	}

	tracker := learning.NewTracker(a.store, learning.TrackerOptions{
		Logger:    logger,
		Seeds:     seedExamples(a.extractor, opts.transactions, a.history),
		Retention: cfg.Learning.Retention,
	})
	a.handle = stats.NewHandle(cfg.Learning.MinCorpusSize, logger)
	a.loop = learning.NewLoop(tracker, a.handle, learning.LoopOptions{
		Snapshots:    a.snapshots,
		History:      a.store,
		Logger:       logger,
		RetrainEvery: cfg.Learning.RetrainEvery,
	})
	if err := a.warmModel(ctx, opts.refresh); err != nil {
		return nil, err
	}

	sources := []service.Classifier{}
	if a.rules, err = loadRules(cfg.Paths.RulesFile, a.taxonomy); err != nil {
		return nil, err
	}
	if a.rules != nil {
		sources = append(sources, a.rules)
	}
	sources = append(sources, a.handle)

	if cfg.LLMEnabled() && !opts.noLLM {
		a.llm, err = llm.New(ctx, cfg.LLM, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, a.llm)
	} else {
		logger.Info("LLM source disabled", "provider", cfg.LLM.Provider)
	}

	combiner, err := ensemble.NewCombiner(cfg.Ensemble)
	if err != nil {
		return nil, err
	}
	engineOpts := cfg.Engine
	engineOpts.Logger = logger
	a.engine, err = engine.New(a.extractor, combiner, a.taxonomy, sources, engineOpts)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// warmModel restores the last snapshot and, when refresh is set, retrains so that newly
// categorized transactions count. A corpus below the minimum leaves the statistical source
// abstaining.
func (a *app) warmModel(ctx context.Context, refresh bool) error {
	restored, err := a.loop.Restore(ctx)
	if err != nil {
		slog.Warn("Failed to restore model snapshot", "error", err)
	}
	if !refresh {
		return nil
	}
	_, err = a.loop.Retrain(ctx)
	switch {
	case errors.Is(err, common.ErrCorpusTooSmall):
		slog.Info("Statistical model not trained yet", "restored", restored, "reason", err)
		return nil
	case err != nil:
		return fmt.Errorf("failed to train statistical model: %w", err)
	}
	return nil
}

func loadRules(path string, taxonomy *model.Taxonomy) (*rules.Classifier, error) {
	if path == "" {
		return nil, nil
	}
	list, err := rules.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("No rules file found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c, err := rules.NewClassifier(list, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("invalid rules in %s: %w", path, err)
	}
	slog.Debug("Loaded rules", "path", path, "count", c.Len())
	return c, nil
}

// source returns the named classifier; "ensemble" is the whole engine.
func (a *app) source(name string) (service.Classifier, error) {
	switch model.Source(name) {
	case model.SourceEnsemble, "":
		return a.engine, nil
	case model.SourceStatistical:
		return a.handle, nil
	case model.SourceRule:
		if a.rules == nil {
			return nil, fmt.Errorf("no rules file loaded")
		}
		return a.rules, nil
	case model.SourceLLM:
		if a.llm == nil {
			return nil, fmt.Errorf("LLM source is disabled")
		}
		return a.llm, nil
	default:
		return nil, fmt.Errorf("unknown source %q (want ensemble, rule, statistical or llm)", name)
	}
}

func (a *app) harness() (*eval.Harness, error) {
	return eval.NewHarness(a.extractor, a.taxonomy, eval.Options{Workers: a.cfg.Engine.Workers, History: a.history})
}

func (a *app) Close() {
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			slog.Error("Failed to close model store", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("Failed to close correction log", "error", err)
		}
	}
}

// seedExamples turns already-categorized transactions into training seeds.
func seedExamples(extractor *features.Extractor, txns []model.Transaction, history *features.History) []model.TrainingExample {
	var seeds []model.TrainingExample
	for _, txn := range txns {
		if txn.Category == "" {
			continue
		}
		bundle, err := extractor.Extract(txn, history)
		if err != nil {
			slog.Debug("Skipping seed transaction", "transaction_id", txn.ID, "error", err)
			continue
		}
		seeds = append(seeds, model.TrainingExample{
			LabeledAt:     txn.Date,
			TransactionID: txn.ID,
			Category:      txn.Category,
			Features:      bundle,
		})
	}
	return seeds
}

// parseDate parses a YYYY-MM-DD flag value as a UTC day; empty means unset.
func parseDate(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
