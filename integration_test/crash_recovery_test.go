package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/wal"
)

// The tests in this package exercise the full public surface: facade,
// engine, WAL, and storage together, across simulated crashes. A crash is
// simulated by dropping the database without Close, so the data file lags
// behind the WAL exactly as it would after a power cut in Unsafe mode.

func TestCrashRecovery_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		db, err := docgo.Open(dir, docgo.WithDurability(docgo.Unsafe))
		require.NoError(t, err)

		// Committed work: two transactions, one with an index change.
		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.InsertWithID("users", 1, document.Document{"name": "alice", "city": "berlin"}))
		require.NoError(t, tx.InsertWithID("users", 2, document.Document{"name": "bob", "city": "oslo"}))
		require.NoError(t, tx.Commit(ctx))

		tx2, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, tx2.Update("users", 2, document.Document{"name": "bob", "city": "berlin"}))
		require.NoError(t, tx2.Delete("users", 1))
		require.NoError(t, tx2.Commit(ctx))

		// Uncommitted work: must vanish at recovery.
		tx3, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, tx3.InsertWithID("users", 3, document.Document{"name": "carol"}))

		// Crash: no Close, no Flush.
	}

	db, err := docgo.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	// Both committed transactions replayed, in order.
	assert.False(t, db.Has("users", 1))
	doc, err := db.Get("users", 2)
	require.NoError(t, err)
	assert.Equal(t, "berlin", doc["city"])

	// The uncommitted transaction is gone.
	assert.False(t, db.Has("users", 3))

	// The WAL was checkpointed after recovery.
	assert.Equal(t, uint64(2), db.Stats().ReplayedTransactions)

	// New transaction ids continue past every committed id the log saw.
	tx, err := db.Begin()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tx.ID(), uint64(3))
	require.NoError(t, tx.Rollback())
}

func TestCrashRecovery_TornWALTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		db, err := docgo.Open(dir, docgo.WithDurability(docgo.Unsafe))
		require.NoError(t, err)
		require.NoError(t, db.InsertWithID(ctx, "users", 1, document.Document{"name": "alice"}))
	}

	// A torn write at crash time leaves garbage after the valid entries.
	walPath := filepath.Join(dir, wal.FileName)
	f, err := os.OpenFile(walPath, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	db, err := docgo.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	// The valid prefix replays; the garbage tail is discarded silently.
	assert.True(t, db.Has("users", 1))
	assert.Equal(t, uint64(1), db.Stats().ReplayedTransactions)
}

func TestCrashRecovery_RepeatedCrashesAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		db, err := docgo.Open(dir, docgo.WithDurability(docgo.Unsafe))
		require.NoError(t, err)
		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.InsertWithID("users", 1, document.Document{"rev": int64(1)}))
		require.NoError(t, tx.InsertWithID("users", 2, document.Document{"rev": int64(1)}))
		require.NoError(t, tx.Commit(ctx))
	}

	// Crash-reopen repeatedly; every pass must converge to the same state.
	for i := 0; i < 3; i++ {
		db, err := docgo.Open(dir)
		require.NoError(t, err)
		assert.Equal(t, 2, db.Count("users"), "pass %d", i)
		require.NoError(t, db.Close())
	}
}

func TestCrashRecovery_BatchModeLagIsRepaired(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		db, err := docgo.Open(dir,
			docgo.WithDurability(docgo.Batch),
			docgo.WithBatchSize(50),
		)
		require.NoError(t, err)

		// Fewer commits than the batch size: the data file lags, the WAL
		// holds everything.
		for i := uint64(1); i <= 7; i++ {
			require.NoError(t, db.InsertWithID(ctx, "events", i, document.Document{"seq": int64(i)}))
		}

		// Crash without Close.
	}

	db, err := docgo.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 7, db.Count("events"))
	for i := uint64(1); i <= 7; i++ {
		assert.True(t, db.Has("events", i))
	}
}

func TestCrashRecovery_IndexesRebuiltFromDocuments(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		db, err := docgo.Open(dir)
		require.NoError(t, err)
		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.InsertWithID("users", 1, document.Document{"city": "berlin"}))
		require.NoError(t, tx.InsertWithID("users", 2, document.Document{"city": "berlin"}))
		require.NoError(t, tx.EnsureIndex("users", "city"))
		require.NoError(t, tx.Commit(ctx))
		require.NoError(t, db.Close())
	}

	db, err := docgo.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	matches, err := db.Find(ctx, "users", "city", "berlin")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
