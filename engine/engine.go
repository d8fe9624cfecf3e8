// Package engine coordinates transactions, the write-ahead log, and the
// document store into one durable commit protocol.
//
// All mutations are buffered in transactions and routed through Commit:
//   - preflight validation (doomed transactions leave no WAL bytes)
//   - Begin, operation, and Commit entries appended to the WAL
//   - WAL fsync (the durability point, per DurabilityMode)
//   - apply into storage, forward index changes, raise id counters
//   - storage sync per policy
//
// Recovery ignores groups without a Commit entry. Opening an engine replays
// the committed tail of the WAL into storage, syncs, and resets the log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/internal/fs"
	"github.com/hupe1980/docgo/resource"
	"github.com/hupe1980/docgo/storage"
	"github.com/hupe1980/docgo/txn"
	"github.com/hupe1980/docgo/wal"
)

// ErrClosed is returned when the engine has been closed.
var ErrClosed = errors.New("engine closed")

// Stats summarizes the engine's state.
type Stats struct {
	Collections          int
	Documents            int
	IndexedFields        int
	DataFileBytes        int64
	WALBytes             int64
	ActiveTransactions   int
	Commits              uint64
	Rollbacks            uint64
	Checkpoints          uint64
	ReplayedTransactions uint64
}

// Engine owns the WAL, the store, and the transaction table.
//
// Lock stratification:
//   - mu serializes the commit protocol end to end (preflight, WAL append,
//     fsync, apply, storage sync), checkpoints, and Close.
//   - applyMu lets readers exclude the apply phase, so a half-applied commit
//     is never observed.
type Engine struct {
	mu      sync.Mutex
	applyMu sync.RWMutex

	wal   *wal.WAL
	store *storage.Store
	table *txn.Table

	dir        string
	cdc        codec.Codec
	walCdc     codec.Codec
	logger     *slog.Logger
	durability DurabilityMode
	batchSize  int

	commitsSinceSync int // guarded by mu
	closed           bool

	autoOps    int
	autoBytes  int64
	controller *resource.Controller

	// ctx is canceled by Close and unblocks background work waiting on the
	// resource controller.
	ctx    context.Context
	cancel context.CancelFunc

	checkpointCh chan struct{}
	wg           sync.WaitGroup

	commits     atomic.Uint64
	rollbacks   atomic.Uint64
	checkpoints atomic.Uint64
	replayed    atomic.Uint64
}

// Open loads or creates an engine in dir. Any committed transactions left in
// the WAL by a crash are replayed into storage before Open returns; the
// engine refuses to open if replayed operations cannot be applied.
func Open(dir string, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}
	if opts.Controller == nil {
		opts.Controller = resource.NewController(resource.Config{})
	}

	store, err := storage.Open(dir, func(o *storage.Options) {
		o.FS = opts.FS
		o.Codec = opts.Codec
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	walOpts := append([]func(*wal.Options){func(o *wal.Options) {
		o.FS = opts.FS
		o.Codec = store.Codec()
	}}, opts.WALOptions...)

	w, err := wal.Open(dir, walOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	cdc, ok := codec.ByName(store.Codec())
	if !ok {
		_ = w.Close()
		_ = store.Close()
		return nil, fmt.Errorf("unknown codec %q in data file header", store.Codec())
	}
	walCdc, ok := codec.ByName(w.Codec())
	if !ok {
		_ = w.Close()
		_ = store.Close()
		return nil, fmt.Errorf("unknown codec %q in WAL header", w.Codec())
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		wal:          w,
		store:        store,
		table:        txn.NewTable(),
		dir:          dir,
		cdc:          cdc,
		walCdc:       walCdc,
		logger:       opts.Logger,
		durability:   opts.Durability,
		batchSize:    opts.BatchSize,
		autoOps:      opts.AutoCheckpointOps,
		autoBytes:    opts.AutoCheckpointBytes,
		controller:   opts.Controller,
		ctx:          ctx,
		cancel:       cancel,
		checkpointCh: make(chan struct{}, 1),
	}

	if err := e.recover(); err != nil {
		cancel()
		_ = w.Close()
		_ = store.Close()
		return nil, err
	}

	if e.autoOps > 0 || e.autoBytes > 0 {
		e.wg.Add(1)
		GoSafe(e.logger, func() {
			defer e.wg.Done()
			e.runCheckpointWorker()
		})
	}

	e.logger.Info("engine opened",
		"dir", dir,
		"durability", e.durability.String(),
		"codec", store.Codec(),
	)

	return e, nil
}

// Dir returns the engine's data directory.
func (e *Engine) Dir() string { return e.dir }

// Begin registers a new transaction.
func (e *Engine) Begin() (*txn.Transaction, error) {
	return e.table.Begin()
}

// Transaction returns a registered transaction by id.
func (e *Engine) Transaction(txID uint64) (*txn.Transaction, error) {
	return e.table.Get(txID)
}

// Get returns a copy of the document, or storage.ErrNotFound.
func (e *Engine) Get(collection string, id uint64) (document.Document, error) {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.Get(collection, id)
}

// Has reports whether the document exists.
func (e *Engine) Has(collection string, id uint64) bool {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.Has(collection, id)
}

// Count returns the number of documents in the collection.
func (e *Engine) Count(collection string) int {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.Count(collection)
}

// Collections returns the sorted collection names.
func (e *Engine) Collections() []string {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.Collections()
}

// IndexedFields returns the sorted indexed field names of a collection.
func (e *Engine) IndexedFields(collection string) []string {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.IndexedFields(collection)
}

// FindIndexed returns all documents whose indexed field equals value, in
// ascending id order.
func (e *Engine) FindIndexed(collection, field string, value any) ([]storage.Match, error) {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.FindIndexed(collection, field, value)
}

// NextID reserves the next document id for a collection.
func (e *Engine) NextID(collection string) (uint64, error) {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.NextID(collection)
}

// LastAssignedID reports the collection's id high-water mark.
func (e *Engine) LastAssignedID(collection string) uint64 {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	return e.store.LastAssignedID(collection)
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() Stats {
	st := e.store.Stats()
	walBytes, _ := e.wal.Size()

	return Stats{
		Collections:          st.Collections,
		Documents:            st.Documents,
		IndexedFields:        st.IndexedFields,
		DataFileBytes:        st.DataFileBytes,
		WALBytes:             walBytes,
		ActiveTransactions:   e.table.Len(),
		Commits:              e.commits.Load(),
		Rollbacks:            e.rollbacks.Load(),
		Checkpoints:          e.checkpoints.Load(),
		ReplayedTransactions: e.replayed.Load(),
	}
}

// Close checkpoints best effort, stops background work, and releases the WAL
// and the store. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	cpErr := e.checkpointLocked()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.table.Close()

	firstErr := cpErr
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.logger.Info("engine closed", "dir", e.dir)

	return firstErr
}
