package backup_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/backup"
	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/resource"
	"github.com/hupe1980/docgo/txn"
)

func seedEngine(t *testing.T, dir string) {
	t.Helper()

	e, err := engine.Open(dir)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()

	tx, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.AddOperation(txn.NewInsert("users", 1, document.Document{"name": "alice"})))
	require.NoError(t, tx.AddOperation(txn.NewInsert("users", 2, document.Document{"name": "bob"})))
	require.NoError(t, tx.AddIndexChange(txn.IndexChange{Collection: "users", Field: "name", Kind: txn.IndexEnsure}))
	require.NoError(t, e.Commit(ctx, tx.ID()))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	for _, compression := range []backup.Compression{
		backup.CompressionNone,
		backup.CompressionZstd,
		backup.CompressionLZ4,
	} {
		t.Run(compression.String(), func(t *testing.T) {
			ctx := context.Background()
			srcDir := t.TempDir()
			seedEngine(t, srcDir)

			e, err := engine.Open(srcDir)
			require.NoError(t, err)
			defer e.Close()

			store := blobstore.NewMemoryStore()

			name, size, err := backup.Backup(ctx, e, store, "", func(o *backup.Options) {
				o.Compression = compression
			})
			require.NoError(t, err)
			assert.NotEmpty(t, name)
			assert.Positive(t, size)

			// LATEST points at the new archive.
			latest, err := blobstore.GetBytes(ctx, store, backup.LatestName)
			require.NoError(t, err)
			assert.Equal(t, name, string(latest))

			dstDir := t.TempDir() + "/restored"
			require.NoError(t, backup.Restore(ctx, store, "", dstDir))

			restored, err := engine.Open(dstDir)
			require.NoError(t, err)
			defer restored.Close()

			doc, err := restored.Get("users", 1)
			require.NoError(t, err)
			assert.Equal(t, "alice", doc["name"])
			assert.Equal(t, 2, restored.Count("users"))
			assert.Equal(t, []string{"name"}, restored.IndexedFields("users"))
		})
	}
}

func TestBackupIsConsistentUnderConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seedEngine(t, dir)

	e, err := engine.Open(dir)
	require.NoError(t, err)
	defer e.Close()

	store := blobstore.NewMemoryStore()

	// Commits racing with the backup either land fully before the quiesce
	// or fully after it; the archive never holds half a transaction.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(10); i < 20; i++ {
			tx, err := e.Begin()
			if err != nil {
				return
			}
			_ = tx.AddOperation(txn.NewInsert("users", i, document.Document{"n": int64(i)}))
			_ = e.Commit(ctx, tx.ID())
		}
	}()

	name, _, err := backup.Backup(ctx, e, store, "race.bak")
	require.NoError(t, err)
	<-done

	dstDir := t.TempDir() + "/restored"
	require.NoError(t, backup.Restore(ctx, store, name, dstDir))

	restored, err := engine.Open(dstDir)
	require.NoError(t, err)
	defer restored.Close()

	// The seed documents are always present and every captured commit is
	// complete.
	assert.True(t, restored.Has("users", 1))
	assert.True(t, restored.Has("users", 2))
	for i := uint64(10); i < 20; i++ {
		if restored.Has("users", i) {
			doc, err := restored.Get("users", i)
			require.NoError(t, err)
			assert.EqualValues(t, i, doc["n"])
		}
	}
}

func TestBackupHonorsResourceController(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seedEngine(t, dir)

	e, err := engine.Open(dir)
	require.NoError(t, err)
	defer e.Close()

	store := blobstore.NewMemoryStore()
	controller := resource.NewController(resource.Config{
		MaxBackgroundWorkers: 1,
		IOLimitBytesPerSec:   1 << 20,
	})

	_, _, err = backup.Backup(ctx, e, store, "throttled.bak", func(o *backup.Options) {
		o.Controller = controller
	})
	require.NoError(t, err)

	// The background slot is released afterwards.
	assert.True(t, controller.TryAcquireBackground())
	controller.ReleaseBackground()
}

func TestRestoreRejectsNonEmptyDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seedEngine(t, dir)

	e, err := engine.Open(dir)
	require.NoError(t, err)
	defer e.Close()

	store := blobstore.NewMemoryStore()
	name, _, err := backup.Backup(ctx, e, store, "full.bak")
	require.NoError(t, err)

	// The source directory itself is not empty.
	err = backup.Restore(ctx, store, name, dir)
	assert.ErrorContains(t, err, "not empty")
}

func TestRestoreDetectsCorruptArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seedEngine(t, dir)

	e, err := engine.Open(dir)
	require.NoError(t, err)
	defer e.Close()

	store := blobstore.NewMemoryStore()
	name, _, err := backup.Backup(ctx, e, store, "corrupt.bak", func(o *backup.Options) {
		o.Compression = backup.CompressionNone
	})
	require.NoError(t, err)

	data, err := blobstore.GetBytes(ctx, store, name)
	require.NoError(t, err)

	// No single corrupted byte may restore cleanly: entry checksums cover
	// the name and size fields as well as the data, and the archive header
	// is validated field by field.
	scratch := t.TempDir()
	for i := range data {
		corrupted := bytes.Clone(data)
		corrupted[i] ^= 0xFF
		_, err = store.Put(ctx, name, bytes.NewReader(corrupted))
		require.NoError(t, err)

		err = backup.Restore(ctx, store, name, filepath.Join(scratch, strconv.Itoa(i)))
		assert.Error(t, err, "corrupted byte %d restored cleanly", i)
	}
}

func TestRestoreMissingArchive(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	err := backup.Restore(ctx, store, "", t.TempDir()+"/restored")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestRestoreTruncatedArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seedEngine(t, dir)

	e, err := engine.Open(dir)
	require.NoError(t, err)
	defer e.Close()

	store := blobstore.NewMemoryStore()
	name, _, err := backup.Backup(ctx, e, store, "short.bak", func(o *backup.Options) {
		o.Compression = backup.CompressionNone
	})
	require.NoError(t, err)

	data, err := blobstore.GetBytes(ctx, store, name)
	require.NoError(t, err)
	_, err = store.Put(ctx, name, bytes.NewReader(data[:len(data)/2]))
	require.NoError(t, err)

	err = backup.Restore(ctx, store, name, t.TempDir()+"/restored")
	require.ErrorIs(t, err, backup.ErrArchiveCorrupt)
}

func TestArchiveStreamsLargeFiles(t *testing.T) {
	// A data file larger than the pipe and bufio buffers must stream
	// through without truncation.
	ctx := context.Background()
	dir := t.TempDir()

	e, err := engine.Open(dir)
	require.NoError(t, err)

	tx, err := e.Begin()
	require.NoError(t, err)
	blob := make([]byte, 64)
	for i := uint64(1); i <= 500; i++ {
		require.NoError(t, tx.AddOperation(txn.NewInsert("blobs", i, document.Document{
			"data": string(blob),
			"seq":  int64(i),
		})))
	}
	require.NoError(t, e.Commit(ctx, tx.ID()))

	store := blobstore.NewMemoryStore()
	name, _, err := backup.Backup(ctx, e, store, "large.bak")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	dstDir := t.TempDir() + "/restored"
	require.NoError(t, backup.Restore(ctx, store, name, dstDir))

	restored, err := engine.Open(dstDir)
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, 500, restored.Count("blobs"))
	doc, err := restored.Get("blobs", 250)
	require.NoError(t, err)
	assert.EqualValues(t, 250, doc["seq"])
}
