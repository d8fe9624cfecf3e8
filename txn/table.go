package txn

import (
	"sync"
	"sync/atomic"
)

// Table tracks every in-flight transaction and allocates ids.
//
// Ids are monotonically increasing for the lifetime of a database instance.
// After recovery the counter is re-seeded past the highest id found in the
// WAL, so restarted instances never reuse an id that reached the log.
type Table struct {
	mu     sync.RWMutex
	txs    map[uint64]*Transaction
	closed bool

	lastID atomic.Uint64
}

// NewTable creates an empty transaction table. The first allocated id is 1.
func NewTable() *Table {
	return &Table{txs: make(map[uint64]*Transaction)}
}

// Begin creates a new Active transaction and registers it.
func (tb *Table) Begin() (*Transaction, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.closed {
		return nil, ErrClosed
	}
	t := newTransaction(tb.lastID.Add(1))
	tb.txs[t.id] = t
	return t, nil
}

// Get returns the registered transaction with the given id.
func (tb *Table) Get(id uint64) (*Transaction, error) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	t, ok := tb.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Remove drops the transaction from the table. Removing an unknown id is a
// no-op.
func (tb *Table) Remove(id uint64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.txs, id)
}

// Len returns the number of registered transactions.
func (tb *Table) Len() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.txs)
}

// Seed raises the id counter so the next allocation is last+1. Lower values
// are ignored; seeding never moves the counter backwards.
func (tb *Table) Seed(last uint64) {
	for {
		cur := tb.lastID.Load()
		if last <= cur {
			return
		}
		if tb.lastID.CompareAndSwap(cur, last) {
			return
		}
	}
}

// Close rejects future Begin calls. Registered transactions stay readable so
// in-flight rollbacks can finish.
func (tb *Table) Close() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.closed = true
}
