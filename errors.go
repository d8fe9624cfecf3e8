package docgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/storage"
	"github.com/hupe1980/docgo/txn"
	"github.com/hupe1980/docgo/wal"
)

var (
	// ErrNotFound is returned when a document is not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert targets an id that already
	// holds a document.
	ErrConflict = errors.New("conflict")

	// ErrNotIndexed is returned when an indexed lookup targets a field
	// without an index.
	ErrNotIndexed = errors.New("not indexed")

	// ErrClosed is returned when the database has been closed.
	ErrClosed = errors.New("database closed")

	// ErrTxNotFound is returned when a transaction id is unknown.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTxDone is returned when a transaction has already been committed
	// or rolled back.
	ErrTxDone = errors.New("transaction already finished")

	// ErrCorrupt is returned when on-disk state fails validation outside
	// the tolerated torn-tail window, e.g. a damaged WAL header.
	ErrCorrupt = errors.New("corrupt data")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	if errors.Is(err, storage.ErrNotIndexed) {
		return fmt.Errorf("%w: %w", ErrNotIndexed, err)
	}

	// Lifecycle normalization.
	if errors.Is(err, engine.ErrClosed) || errors.Is(err, storage.ErrClosed) || errors.Is(err, txn.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, txn.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrTxNotFound, err)
	}
	if errors.Is(err, txn.ErrNotActive) {
		return fmt.Errorf("%w: %w", ErrTxDone, err)
	}
	if errors.Is(err, wal.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return err
}
