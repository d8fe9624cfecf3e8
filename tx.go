package docgo

import (
	"context"
	"time"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/txn"
)

// Tx is a handle to one in-flight transaction.
//
// Operations buffer in memory; nothing reaches the WAL or storage until
// Commit. A Tx is consumed by Commit or Rollback and is single-owner: the
// caller must not share it between goroutines.
type Tx struct {
	db    *DB
	inner *txn.Transaction
}

// ID returns the transaction id.
func (tx *Tx) ID() uint64 {
	return tx.inner.ID()
}

// Insert buffers an insert under an auto-assigned id and returns the id.
//
// The id is reserved immediately so later operations in the same
// transaction can reference it. Ids reserved by a transaction that rolls
// back are discarded, not reused.
func (tx *Tx) Insert(collection string, doc document.Document) (uint64, error) {
	id, err := tx.db.engine.NextID(collection)
	if err != nil {
		return 0, translateError(err)
	}
	if err := tx.InsertWithID(collection, id, doc); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertWithID buffers an insert under the given id. Commit fails with
// ErrConflict if the id is already taken at apply time.
func (tx *Tx) InsertWithID(collection string, id uint64, doc document.Document) error {
	if err := tx.inner.AddOperation(txn.NewInsert(collection, id, doc)); err != nil {
		return translateError(err)
	}
	// Keep the collection's id counter ahead of explicit ids, so later
	// auto-assignments never collide with this document.
	return translateError(tx.inner.RecordLastID(collection, id))
}

// Update buffers a full replacement of the document stored under id.
func (tx *Tx) Update(collection string, id uint64, doc document.Document) error {
	return translateError(tx.inner.AddOperation(txn.NewUpdate(collection, id, doc)))
}

// Delete buffers a delete. Deleting a missing document is a no-op at apply
// time.
func (tx *Tx) Delete(collection string, id uint64) error {
	return translateError(tx.inner.AddOperation(txn.NewDelete(collection, id)))
}

// EnsureIndex buffers creation of an equality index on a top-level field.
// Applied after the transaction's document operations.
func (tx *Tx) EnsureIndex(collection, field string) error {
	return translateError(tx.inner.AddIndexChange(txn.IndexChange{
		Collection: collection,
		Field:      field,
		Kind:       txn.IndexEnsure,
	}))
}

// DropIndex buffers removal of a field index.
func (tx *Tx) DropIndex(collection, field string) error {
	return translateError(tx.inner.AddIndexChange(txn.IndexChange{
		Collection: collection,
		Field:      field,
		Kind:       txn.IndexDrop,
	}))
}

// Operations returns the number of buffered operations.
func (tx *Tx) Operations() int {
	return len(tx.inner.Operations())
}

// Commit makes the buffered work durable and visible, atomically.
//
// On validation or WAL write failure the transaction stays open: the caller
// may fix the problem and retry, or roll back.
func (tx *Tx) Commit(ctx context.Context) error {
	start := time.Now()
	ops := len(tx.inner.Operations())

	err := translateError(tx.db.engine.Commit(ctx, tx.inner.ID()))

	tx.db.metrics.RecordCommit(ops, time.Since(start), err)
	tx.db.logger.LogCommit(ctx, tx.inner.ID(), ops, err)

	return err
}

// Rollback discards the buffered work. Storage is never touched.
func (tx *Tx) Rollback() error {
	start := time.Now()

	err := translateError(tx.db.engine.Rollback(tx.inner.ID()))

	tx.db.metrics.RecordRollback(time.Since(start), err)
	tx.db.logger.LogRollback(context.Background(), tx.inner.ID(), err)

	return err
}
