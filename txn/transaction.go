package txn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a transaction id is not in the table.
	ErrNotFound = errors.New("transaction not found")
	// ErrNotActive is returned when an operation requires an Active
	// transaction but the transaction is Committed or Aborted.
	ErrNotActive = errors.New("transaction is not active")
	// ErrClosed is returned by Begin after the table was closed.
	ErrClosed = errors.New("transaction table is closed")
)

// State is the lifecycle state of a transaction.
type State uint8

const (
	// StateActive accepts buffered operations. Initial state.
	StateActive State = iota + 1
	// StateCommitted is terminal: the transaction's effects are applied.
	StateCommitted
	// StateAborted is terminal: the transaction's effects are discarded.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transaction buffers the operations, index changes and metadata deltas of
// one atomic unit of work.
//
// A Transaction is not safe for concurrent use: callers own the handle and
// must serialize access to it themselves. The Table handing out transactions
// is safe for concurrent use.
type Transaction struct {
	id    uint64
	state State

	ops          []Operation
	indexChanges []IndexChange
	metaDeltas   map[string]uint64 // collection -> highest assigned doc id
}

func newTransaction(id uint64) *Transaction {
	return &Transaction{id: id, state: StateActive}
}

// ID returns the transaction id.
func (t *Transaction) ID() uint64 { return t.id }

// State returns the current lifecycle state.
func (t *Transaction) State() State { return t.state }

// AddOperation appends op to the buffer. Order is preserved; it becomes the
// apply order at commit and the replay order at recovery.
func (t *Transaction) AddOperation(op Operation) error {
	if t.state != StateActive {
		return fmt.Errorf("%w: %s", ErrNotActive, t.state)
	}
	t.ops = append(t.ops, op)
	return nil
}

// AddIndexChange buffers a secondary-index change.
func (t *Transaction) AddIndexChange(ch IndexChange) error {
	if t.state != StateActive {
		return fmt.Errorf("%w: %s", ErrNotActive, t.state)
	}
	t.indexChanges = append(t.indexChanges, ch)
	return nil
}

// RecordLastID raises the buffered last-assigned-id high-water mark for a
// collection. The coordinator forwards it to storage at commit so id
// counters survive restarts.
func (t *Transaction) RecordLastID(collection string, id uint64) error {
	if t.state != StateActive {
		return fmt.Errorf("%w: %s", ErrNotActive, t.state)
	}
	if t.metaDeltas == nil {
		t.metaDeltas = make(map[string]uint64)
	}
	if id > t.metaDeltas[collection] {
		t.metaDeltas[collection] = id
	}
	return nil
}

// Operations returns the buffered operations in buffering order.
func (t *Transaction) Operations() []Operation { return t.ops }

// IndexChanges returns the buffered index changes in buffering order.
func (t *Transaction) IndexChanges() []IndexChange { return t.indexChanges }

// MetaDeltas returns the buffered per-collection last-id high-water marks.
func (t *Transaction) MetaDeltas() map[string]uint64 { return t.metaDeltas }

// MarkCommitted transitions Active -> Committed.
func (t *Transaction) MarkCommitted() error {
	if t.state != StateActive {
		return fmt.Errorf("%w: cannot commit %s transaction", ErrNotActive, t.state)
	}
	t.state = StateCommitted
	return nil
}

// MarkAborted transitions Active -> Aborted and discards the buffers.
func (t *Transaction) MarkAborted() error {
	if t.state != StateActive {
		return fmt.Errorf("%w: cannot abort %s transaction", ErrNotActive, t.state)
	}
	t.state = StateAborted
	t.ops = nil
	t.indexChanges = nil
	t.metaDeltas = nil
	return nil
}
