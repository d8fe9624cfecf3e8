package engine

import (
	"fmt"

	"github.com/hupe1980/docgo/wal"
)

// recover replays the committed tail of the WAL into storage. Groups without
// a Commit entry are discarded by the reader. After a successful replay the
// storage state is synced, the WAL is reset, and the transaction table is
// seeded past the highest id seen in the log.
//
// A storage error during replay aborts the open: a WAL group that was
// durable but cannot be applied is a real inconsistency, not something to
// skip over.
func (e *Engine) recover() error {
	var (
		groups     uint64
		operations int
	)

	maxTxID, err := e.wal.ReplayCommitted(func(_ uint64, ops []wal.Operation) error {
		for i := range ops {
			op, err := decodeOperation(e.walCdc, &ops[i])
			if err != nil {
				return err
			}
			if err := e.store.ApplyReplay(op); err != nil {
				return err
			}
		}

		groups++
		operations += len(ops)

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay WAL: %w", err)
	}

	if groups > 0 {
		if err := e.store.Sync(); err != nil {
			return fmt.Errorf("sync storage after replay: %w", err)
		}
	}

	// Reset even when nothing replayed. A crash mid-write of the first
	// entry leaves a torn prefix; appending new groups after it would make
	// them unreachable for the next replay, which stops at the tear.
	if err := e.wal.Reset(); err != nil {
		return fmt.Errorf("reset WAL after replay: %w", err)
	}

	e.table.Seed(maxTxID)
	e.replayed.Store(groups)

	if groups > 0 {
		e.logger.Info("recovery replayed committed transactions",
			"transactions", groups,
			"operations", operations,
			"max_tx_id", maxTxID,
		)
	}

	return nil
}
