package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/learning"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

var _ service.CorrectionStore = (*SQLiteStore)(nil)
var _ service.RetrainLog = (*SQLiteStore)(nil)
var _ service.SnapshotStore = (*SnapshotStore)(nil)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(MemoryPath, common.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func correction(id, txnID, suggested, final string, at time.Time) *model.Correction {
	return &model.Correction{
		ID:                id,
		TransactionID:     txnID,
		SuggestedCategory: suggested,
		FinalCategory:     final,
		RecordedAt:        at,
		Features: model.FeatureBundle{
			TransactionID:   txnID,
			NormalizedPayee: "whole foods market",
			PayeeTokens:     []string{"whole", "foods", "market"},
			AmountBucket:    "medium",
			Direction:       "debit",
			History:         map[string]float64{"Groceries": 0.75, "Dining": 0.25},
			HistoryCount:    4,
			AbsAmount:       82.1,
		},
	}
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	// Re-running is a no-op.
	require.NoError(t, store.Migrate(ctx))

	var version int
	require.NoError(t, store.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, ExpectedSchemaVersion, version)
}

func TestSQLiteStore_AppendAndList(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 30, 0, 123456789, time.UTC)

	first := correction("c1", "t1", "Dining", "Groceries", at)
	require.NoError(t, store.AppendCorrection(ctx, first))
	assert.Equal(t, int64(1), first.Sequence)

	second := correction("c2", "t2", "", "Fuel", at)
	require.NoError(t, store.AppendCorrection(ctx, second))
	assert.Equal(t, int64(2), second.Sequence)

	log, err := store.ListCorrections(ctx)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, *first, log[0])
	assert.Equal(t, "Fuel", log[1].FinalCategory)
	assert.True(t, log[0].RecordedAt.Equal(at))

	byTxn, err := store.CorrectionsForTransaction(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, byTxn, 1)
	assert.Equal(t, "c2", byTxn[0].ID)
}

func TestSQLiteStore_AppendValidates(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	err := store.AppendCorrection(ctx, correction("c1", "", "", "Fuel", time.Now()))
	assert.ErrorIs(t, err, common.ErrInvalidCorrection)

	err = store.AppendCorrection(ctx, correction("c1", "t1", "", "", time.Now()))
	assert.ErrorIs(t, err, common.ErrInvalidCorrection)

	err = store.AppendCorrection(ctx, nil)
	assert.ErrorIs(t, err, ErrNilParameter)

	require.NoError(t, store.AppendCorrection(ctx, correction("dup", "t1", "", "Fuel", time.Now())))
	assert.Error(t, store.AppendCorrection(ctx, correction("dup", "t1", "", "Fuel", time.Now())), "ids are unique")
}

func TestSQLiteStore_AppendOnly(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendCorrection(ctx, correction("c1", "t1", "", "Fuel", time.Now())))

	_, err := store.db.ExecContext(ctx, `UPDATE corrections SET final_category = 'Travel'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = store.db.ExecContext(ctx, `DELETE FROM corrections`)
	require.Error(t, err)

	log, err := store.ListCorrections(ctx)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "Fuel", log[0].FinalCategory)
}

func TestSQLiteStore_BacksTracker(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tracker := learning.NewTracker(store, learning.TrackerOptions{Logger: common.DiscardLogger()})

	_, err := tracker.Record(ctx, "T", "Shopping", "Shopping", model.FeatureBundle{NormalizedPayee: "amazon"})
	require.NoError(t, err)
	_, err = tracker.Record(ctx, "T", "Shopping", "Electronics", model.FeatureBundle{NormalizedPayee: "amazon"})
	require.NoError(t, err)

	corpus, err := tracker.BuildCorpus(ctx)
	require.NoError(t, err)
	require.Len(t, corpus.Examples, 1)
	assert.Equal(t, "Electronics", corpus.Examples[0].Category)
	assert.Equal(t, "amazon", corpus.Examples[0].Features.NormalizedPayee)
}

func TestSQLiteStore_RetrainLog(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for i, result := range []string{"skipped", "swapped", "unchanged"} {
		require.NoError(t, store.RecordRetrain(ctx, service.RetrainRun{
			Result:    result,
			Examples:  10 * (i + 1),
			CreatedAt: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
		}))
	}

	runs, err := store.ListRetrains(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "unchanged", runs[0].Result)
	assert.Equal(t, 30, runs[0].Examples)
	assert.Equal(t, "swapped", runs[1].Result)

	all, err := store.ListRetrains(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.ErrorIs(t, store.RecordRetrain(ctx, service.RetrainRun{}), ErrEmptyString)
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "model.db")

	store, err := OpenSnapshotStore(path, 2)
	require.NoError(t, err)

	_, err = store.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, common.ErrNotFound)

	corpus := model.TrainingCorpus{Examples: []model.TrainingExample{
		{TransactionID: "a", Category: "Fuel", Features: model.FeatureBundle{PayeeTokens: []string{"shell"}}},
		{TransactionID: "b", Category: "Groceries", Features: model.FeatureBundle{PayeeTokens: []string{"safeway"}}},
	}}
	for want := int64(1); want <= 3; want++ {
		got, err := store.SaveSnapshot(ctx, service.ModelSnapshot{
			Version:     99, // ignored: the store assigns versions
			Fingerprint: corpus.Fingerprint(),
			Corpus:      corpus,
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	versions, err := store.Versions()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, versions)

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)
	assert.Equal(t, corpus.Fingerprint(), latest.Corpus.Fingerprint())

	// Snapshots survive a reopen, and versions keep increasing past the ones already kept.
	require.NoError(t, store.Close())
	reopened, err := OpenSnapshotStore(path, 2)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	latest, err = reopened.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)

	smaller := model.TrainingCorpus{Examples: corpus.Examples[:1]}
	version, err := reopened.SaveSnapshot(ctx, service.ModelSnapshot{Corpus: smaller, Fingerprint: smaller.Fingerprint()})
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)

	latest, err = reopened.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.Version)
	assert.Equal(t, smaller.Fingerprint(), latest.Fingerprint)

	versions, err = reopened.Versions()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, versions)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = reopened.SaveSnapshot(cancelled, service.ModelSnapshot{})
	assert.Error(t, err)
}
