package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/storage"
	"github.com/hupe1980/docgo/txn"
	"github.com/hupe1980/docgo/wal"
)

// Commit makes a transaction's buffered work durable and visible.
//
// The protocol runs under a single commit lock:
//  1. preflight the operation sequence against current storage state
//  2. append Begin, operation, and Commit entries to the WAL
//  3. fsync the WAL (the durability point; skipped in Unsafe mode)
//  4. apply operations and index changes into storage
//  5. raise id counters and sync storage per durability policy
//
// A failure before or during step 3 leaves storage untouched and the
// transaction Active, so the caller may retry or roll back. After step 3 the
// commit is durable: the transaction is removed from the table even if the
// apply fails, and recovery repairs storage on the next open.
func (e *Engine) Commit(ctx context.Context, txID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t, err := e.table.Get(txID)
	if err != nil {
		return err
	}
	if t.State() != txn.StateActive {
		return fmt.Errorf("%w: %s", txn.ErrNotActive, t.State())
	}

	ops := t.Operations()

	if err := e.preflight(ops); err != nil {
		return err
	}

	if err := e.appendGroup(txID, ops); err != nil {
		return err
	}

	if e.durability == Unsafe {
		if err := e.wal.Flush(); err != nil {
			return fmt.Errorf("flush WAL: %w", err)
		}
	} else if err := e.wal.Sync(); err != nil {
		return fmt.Errorf("sync WAL: %w", err)
	}

	err = e.applyCommitted(t)
	if err == nil {
		err = e.syncPerPolicy()
	}

	// The group is durable, so the outcome is decided: the transaction
	// leaves the table whether the apply succeeded or not. On failure the
	// next open replays the group and repairs storage.
	e.table.Remove(txID)

	if err != nil {
		e.logger.Error("commit durable but apply failed, recovery will repair",
			"tx_id", txID,
			"error", err,
		)
		return fmt.Errorf("apply transaction %d: %w", txID, err)
	}

	_ = t.MarkCommitted()
	e.commits.Add(1)

	e.logger.Debug("transaction committed",
		"tx_id", txID,
		"operations", len(ops),
		"index_changes", len(t.IndexChanges()),
	)

	e.maybeSignalCheckpointLocked()

	return nil
}

// Rollback discards a transaction's buffered work. Storage and the id
// counters are untouched. The abort marker is advisory: recovery discards
// unterminated groups with or without it, so append failures are ignored.
func (e *Engine) Rollback(txID uint64) error {
	t, err := e.table.Get(txID)
	if err != nil {
		return err
	}
	if t.State() != txn.StateActive {
		return fmt.Errorf("%w: %s", txn.ErrNotActive, t.State())
	}

	e.mu.Lock()
	if !e.closed {
		_ = e.wal.Append(wal.Entry{Kind: wal.EntryAbort, TxID: txID})
	}
	e.mu.Unlock()

	_ = t.MarkAborted()
	e.table.Remove(txID)
	e.rollbacks.Add(1)

	e.logger.Debug("transaction rolled back", "tx_id", txID)

	return nil
}

// preflight validates the operation sequence against current storage state
// before any WAL bytes are written, so a doomed transaction leaves no trace.
// The overlay tracks existence changes made by earlier operations of the same
// transaction: insert-then-update and delete-then-insert sequences validate
// the way they will apply.
func (e *Engine) preflight(ops []txn.Operation) error {
	type docKey struct {
		collection string
		id         uint64
	}

	overlay := make(map[docKey]bool, len(ops))

	exists := func(k docKey) bool {
		if v, ok := overlay[k]; ok {
			return v
		}
		return e.store.Has(k.collection, k.id)
	}

	for i := range ops {
		op := &ops[i]
		k := docKey{collection: op.Collection, id: op.DocID}

		switch op.Kind {
		case txn.OpInsert:
			if exists(k) {
				return fmt.Errorf("%w: %s/%d", storage.ErrConflict, op.Collection, op.DocID)
			}
			overlay[k] = true
		case txn.OpUpdate:
			if !exists(k) {
				return fmt.Errorf("%w: %s/%d", storage.ErrNotFound, op.Collection, op.DocID)
			}
			overlay[k] = true
		case txn.OpDelete:
			overlay[k] = false
		default:
			return fmt.Errorf("unknown operation kind %d", op.Kind)
		}
	}

	return nil
}

// appendGroup writes the transaction's entry group to the WAL buffer. The
// group is not durable until the following fsync.
func (e *Engine) appendGroup(txID uint64, ops []txn.Operation) error {
	if err := e.wal.Append(wal.Entry{Kind: wal.EntryBegin, TxID: txID}); err != nil {
		return fmt.Errorf("append begin entry: %w", err)
	}

	for i := range ops {
		op, err := encodeOperation(e.cdc, &ops[i])
		if err != nil {
			return err
		}
		if err := e.wal.Append(wal.Entry{Kind: wal.EntryOperation, TxID: txID, Op: &op}); err != nil {
			return fmt.Errorf("append operation entry: %w", err)
		}
	}

	if err := e.wal.Append(wal.Entry{Kind: wal.EntryCommit, TxID: txID}); err != nil {
		return fmt.Errorf("append commit entry: %w", err)
	}

	return nil
}

// applyCommitted moves a durable transaction into storage. Runs with readers
// excluded, so no reader observes a half-applied commit.
func (e *Engine) applyCommitted(t *txn.Transaction) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	for _, op := range t.Operations() {
		if err := e.store.Apply(op); err != nil {
			return err
		}
	}

	for _, ch := range t.IndexChanges() {
		receipt, err := e.store.ApplyIndexChange(ch)
		if err != nil {
			return err
		}
		e.logger.Debug("index change acknowledged",
			"seq", receipt.Seq,
			"collection", receipt.Collection,
			"field", receipt.Field,
			"kind", receipt.Kind.String(),
		)
	}

	for collection, lastID := range t.MetaDeltas() {
		if err := e.store.ApplyMetaDelta(collection, lastID); err != nil {
			return err
		}
	}

	return nil
}

// syncPerPolicy syncs storage according to the durability mode. Caller must
// hold e.mu.
func (e *Engine) syncPerPolicy() error {
	switch e.durability {
	case Safe:
		return e.store.Sync()
	case Batch:
		e.commitsSinceSync++
		if e.commitsSinceSync >= e.batchSize {
			e.commitsSinceSync = 0
			return e.store.Sync()
		}
	case Unsafe:
		// Storage is synced only by explicit Flush or checkpoint.
	}

	return nil
}

func encodeOperation(cdc codec.Codec, op *txn.Operation) (wal.Operation, error) {
	out := wal.Operation{Collection: op.Collection, DocID: op.DocID}

	switch op.Kind {
	case txn.OpInsert:
		out.Kind = wal.OpInsert
	case txn.OpUpdate:
		out.Kind = wal.OpUpdate
	case txn.OpDelete:
		out.Kind = wal.OpDelete
		return out, nil
	default:
		return wal.Operation{}, fmt.Errorf("unknown operation kind %d", op.Kind)
	}

	raw, err := cdc.Marshal(op.Document)
	if err != nil {
		return wal.Operation{}, fmt.Errorf("encode document %s/%d: %w", op.Collection, op.DocID, err)
	}
	out.Document = raw

	return out, nil
}

func decodeOperation(cdc codec.Codec, op *wal.Operation) (txn.Operation, error) {
	out := txn.Operation{Collection: op.Collection, DocID: op.DocID}

	switch op.Kind {
	case wal.OpInsert:
		out.Kind = txn.OpInsert
	case wal.OpUpdate:
		out.Kind = txn.OpUpdate
	case wal.OpDelete:
		out.Kind = txn.OpDelete
		return out, nil
	default:
		return txn.Operation{}, fmt.Errorf("unknown logged operation kind %d", op.Kind)
	}

	var doc document.Document
	if err := cdc.Unmarshal(op.Document, &doc); err != nil {
		return txn.Operation{}, fmt.Errorf("decode document %s/%d: %w", op.Collection, op.DocID, err)
	}
	out.Document = doc

	return out, nil
}
