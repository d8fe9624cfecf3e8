package docgo_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo"
	"github.com/hupe1980/docgo/document"
)

func TestLifecycle_CloseIsIdempotent(t *testing.T) {
	db, err := docgo.Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestLifecycle_OperationsAfterClose(t *testing.T) {
	db, err := docgo.Open(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.InsertWithID(ctx, "users", 1, document.Document{"name": "alice"}))
	require.NoError(t, db.Close())

	_, err = db.Begin()
	assert.ErrorIs(t, err, docgo.ErrClosed)

	err = db.InsertWithID(ctx, "users", 2, document.Document{"name": "bob"})
	assert.ErrorIs(t, err, docgo.ErrClosed)

	err = db.Flush(ctx)
	assert.ErrorIs(t, err, docgo.ErrClosed)
}

func TestLifecycle_CloseCheckpointsBatchMode(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := docgo.Open(dir, docgo.WithDurability(docgo.Batch), docgo.WithBatchSize(100))
	require.NoError(t, err)

	// Far fewer commits than the batch size: storage is not yet synced.
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, db.InsertWithID(ctx, "users", i, document.Document{"n": int64(i)}))
	}
	require.NoError(t, db.Close())

	db2, err := docgo.Open(dir)
	require.NoError(t, err)
	defer db2.Close()

	assert.Equal(t, 3, db2.Count("users"))
}

func TestLifecycle_UnsafeModeFlushIsTheDurabilityPoint(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := docgo.Open(dir, docgo.WithDurability(docgo.Unsafe))
	require.NoError(t, err)

	require.NoError(t, db.InsertWithID(ctx, "users", 1, document.Document{"name": "alice"}))
	require.NoError(t, db.Flush(ctx))
	require.NoError(t, db.Close())

	db2, err := docgo.Open(dir)
	require.NoError(t, err)
	defer db2.Close()

	assert.True(t, db2.Has("users", 1))
}

func TestLifecycle_ConcurrentBuffering(t *testing.T) {
	db, err := docgo.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	// Many goroutines each run their own transaction. Buffering is
	// concurrent; commits serialize inside the engine.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			tx, err := db.Begin()
			if err != nil {
				errs[g] = err
				return
			}
			base := uint64(g*100 + 1)
			for i := uint64(0); i < 10; i++ {
				if err := tx.InsertWithID("events", base+i, document.Document{"g": int64(g)}); err != nil {
					errs[g] = err
					return
				}
			}
			errs[g] = tx.Commit(ctx)
		}(g)
	}
	wg.Wait()

	for g, err := range errs {
		require.NoError(t, err, "goroutine %d", g)
	}
	assert.Equal(t, 80, db.Count("events"))
}
