package docgo

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/docgo/backup"
	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/storage"
)

// Stats summarizes the database. See engine.Stats.
type Stats = engine.Stats

// Match is one indexed-lookup result. See storage.Match.
type Match = storage.Match

// DB is an embedded document database.
//
// All mutations run through transactions; the single-document methods wrap
// a one-operation transaction each. DB is safe for concurrent use.
type DB struct {
	engine  *engine.Engine
	logger  *Logger
	metrics MetricsCollector
}

// Open loads or creates a database in dir.
//
// Committed transactions a crash left in the write-ahead log are replayed
// into storage before Open returns; incomplete transactions are discarded.
// Open fails rather than opening a database whose log cannot be replayed.
func Open(dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)

	start := time.Now()

	eng, err := engine.Open(dir, func(eo *engine.Options) {
		eo.Durability = o.durability
		eo.BatchSize = o.batchSize
		eo.Codec = o.codec.Name()
		eo.Logger = o.logger.Logger
		eo.WALOptions = o.walOptions
		eo.AutoCheckpointOps = o.autoCheckpointOps
		eo.AutoCheckpointBytes = o.autoCheckpointBytes
		if o.fs != nil {
			eo.FS = o.fs
		}
		if o.controller != nil {
			eo.Controller = o.controller
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", translateError(err))
	}

	db := &DB{
		engine:  eng,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	if replayed := eng.Stats().ReplayedTransactions; replayed > 0 {
		db.metrics.RecordRecovery(replayed, time.Since(start))
		db.logger.LogRecovery(context.Background(), replayed, nil)
	}

	return db, nil
}

// Dir returns the database directory.
func (db *DB) Dir() string {
	return db.engine.Dir()
}

// Begin starts a transaction. The returned Tx buffers operations in memory
// until Commit or Rollback; a Tx must not be shared between goroutines.
func (db *DB) Begin() (*Tx, error) {
	inner, err := db.engine.Begin()
	if err != nil {
		return nil, translateError(err)
	}
	return &Tx{db: db, inner: inner}, nil
}

// Insert stores doc in collection under an auto-assigned id and returns the
// id. Runs as a one-operation transaction.
func (db *DB) Insert(ctx context.Context, collection string, doc document.Document) (uint64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}

	id, err := tx.Insert(collection, doc)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		// A commit rejected before its WAL fsync leaves the transaction
		// open; nobody holds the handle, so discard it.
		_ = tx.Rollback()
		return 0, err
	}
	return id, nil
}

// InsertWithID stores doc in collection under the given id. Fails with
// ErrConflict if the id is taken. Runs as a one-operation transaction.
func (db *DB) InsertWithID(ctx context.Context, collection string, id uint64, doc document.Document) error {
	return db.runSingle(ctx, func(tx *Tx) error {
		return tx.InsertWithID(collection, id, doc)
	})
}

// Update replaces the document stored under id. Fails with ErrNotFound if
// the document does not exist. Runs as a one-operation transaction.
func (db *DB) Update(ctx context.Context, collection string, id uint64, doc document.Document) error {
	return db.runSingle(ctx, func(tx *Tx) error {
		return tx.Update(collection, id, doc)
	})
}

// Delete removes the document stored under id. Deleting a missing document
// is a no-op. Runs as a one-operation transaction.
func (db *DB) Delete(ctx context.Context, collection string, id uint64) error {
	return db.runSingle(ctx, func(tx *Tx) error {
		return tx.Delete(collection, id)
	})
}

// EnsureIndex creates an equality index on a top-level field, backfilling
// it from the stored documents. Creating an existing index is a no-op.
func (db *DB) EnsureIndex(ctx context.Context, collection, field string) error {
	return db.runSingle(ctx, func(tx *Tx) error {
		return tx.EnsureIndex(collection, field)
	})
}

// DropIndex removes a field index. Dropping a missing index is a no-op.
func (db *DB) DropIndex(ctx context.Context, collection, field string) error {
	return db.runSingle(ctx, func(tx *Tx) error {
		return tx.DropIndex(collection, field)
	})
}

func (db *DB) runSingle(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		// A commit rejected before its WAL fsync leaves the transaction
		// open; nobody holds the handle, so discard it.
		_ = tx.Rollback()
		return err
	}
	return nil
}

// Get returns a copy of the document stored under id.
func (db *DB) Get(collection string, id uint64) (document.Document, error) {
	doc, err := db.engine.Get(collection, id)
	return doc, translateError(err)
}

// Has reports whether a document exists.
func (db *DB) Has(collection string, id uint64) bool {
	return db.engine.Has(collection, id)
}

// Count returns the number of documents in a collection.
func (db *DB) Count(collection string) int {
	return db.engine.Count(collection)
}

// Collections returns the sorted collection names.
func (db *DB) Collections() []string {
	return db.engine.Collections()
}

// IndexedFields returns the sorted indexed field names of a collection.
func (db *DB) IndexedFields(collection string) []string {
	return db.engine.IndexedFields(collection)
}

// Find returns the documents whose indexed field equals value, in
// ascending id order. Fails with ErrNotIndexed if the field has no index.
func (db *DB) Find(ctx context.Context, collection, field string, value any) ([]Match, error) {
	start := time.Now()
	matches, err := db.engine.FindIndexed(collection, field, value)
	err = translateError(err)

	db.metrics.RecordFind(len(matches), time.Since(start), err)
	db.logger.LogFind(ctx, collection, field, len(matches), err)

	return matches, err
}

// Flush forces a checkpoint: storage is synced and the WAL is truncated.
// In Batch and Unsafe modes this is the manual durability point.
func (db *DB) Flush(ctx context.Context) error {
	start := time.Now()
	err := translateError(db.engine.Flush(ctx))

	db.metrics.RecordFlush(time.Since(start), err)
	db.logger.LogFlush(ctx, err)

	return err
}

// Quiesce checkpoints the database and runs fn while commits are blocked
// and the on-disk files are stable. Reads proceed normally.
func (db *DB) Quiesce(ctx context.Context, fn func() error) error {
	return translateError(db.engine.Quiesce(ctx, fn))
}

// Backup streams a consistent snapshot of the database into store and
// advances the LATEST pointer. If name is empty, a timestamped name is
// generated. Returns the archive name and its size.
func (db *DB) Backup(ctx context.Context, store blobstore.BlobStore, name string, optFns ...func(o *backup.Options)) (string, int64, error) {
	name, size, err := backup.Backup(ctx, db, store, name, optFns...)
	db.logger.LogBackup(ctx, name, size, err)
	return name, size, err
}

// Stats returns a snapshot of database statistics.
func (db *DB) Stats() Stats {
	return db.engine.Stats()
}
