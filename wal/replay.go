package wal

import (
	"errors"
	"fmt"
	"io"
)

// txGroup accumulates the entries of one transaction during a replay scan.
type txGroup struct {
	ops []Operation
}

// ReplayCommitted scans the log from the start and invokes fn once per
// committed transaction, in commit order, with that transaction's operations
// in buffering order.
//
// Groups without a Commit entry, groups terminated by an Abort marker, and
// everything after the first corrupt or truncated entry are discarded: a torn
// tail is the expected shape of a crash, not an error. The returned id is the
// highest transaction id seen anywhere in the log, including discarded
// groups, so id generators re-seeded from it never collide.
func (w *WAL) ReplayCommitted(fn func(txID uint64, ops []Operation) error) (uint64, error) {
	r, err := w.Reader()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	groups := make(map[uint64]*txGroup)
	var maxTxID uint64

	for {
		e, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrCorrupt) {
				break
			}
			return maxTxID, err
		}

		if e.TxID > maxTxID {
			maxTxID = e.TxID
		}

		switch e.Kind {
		case EntryBegin:
			groups[e.TxID] = &txGroup{}

		case EntryOperation:
			g, ok := groups[e.TxID]
			if !ok {
				continue // no Begin seen; orphaned entry
			}
			g.ops = append(g.ops, *e.Op)

		case EntryCommit:
			g, ok := groups[e.TxID]
			if !ok {
				continue
			}
			delete(groups, e.TxID)
			if err := fn(e.TxID, g.ops); err != nil {
				return maxTxID, fmt.Errorf("replay transaction %d: %w", e.TxID, err)
			}

		case EntryAbort:
			delete(groups, e.TxID)
		}
	}

	return maxTxID, nil
}
