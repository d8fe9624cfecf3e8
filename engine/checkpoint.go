package engine

import (
	"context"
	"fmt"
)

// Flush forces a checkpoint: storage is synced and the WAL is reset. In
// Batch and Unsafe modes this is the manual durability point.
func (e *Engine) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	return e.checkpointLocked()
}

// Quiesce checkpoints the engine and runs fn while commits are blocked. When
// fn runs, storage is synced, the WAL holds only its header, and no commit
// can change the files until fn returns. Reads proceed normally. Backups use
// this to copy a consistent on-disk state.
func (e *Engine) Quiesce(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	if err := e.checkpointLocked(); err != nil {
		return err
	}

	return fn()
}

// checkpointLocked syncs storage and truncates the WAL back to its header.
// Everything the WAL protected is durable in storage afterwards. Caller must
// hold e.mu.
func (e *Engine) checkpointLocked() error {
	if err := e.store.Sync(); err != nil {
		return fmt.Errorf("sync storage: %w", err)
	}
	if err := e.wal.Reset(); err != nil {
		return fmt.Errorf("reset WAL: %w", err)
	}

	e.commitsSinceSync = 0
	e.checkpoints.Add(1)

	e.logger.Debug("checkpoint completed")

	return nil
}

// maybeSignalCheckpointLocked nudges the background worker once a configured
// threshold is crossed. Non-blocking: one pending signal is enough. Caller
// must hold e.mu.
func (e *Engine) maybeSignalCheckpointLocked() {
	if e.autoOps <= 0 && e.autoBytes <= 0 {
		return
	}

	trigger := e.autoOps > 0 && e.wal.CommittedSinceReset() >= e.autoOps
	if !trigger && e.autoBytes > 0 {
		if size, err := e.wal.Size(); err == nil && size >= e.autoBytes {
			trigger = true
		}
	}
	if !trigger {
		return
	}

	select {
	case e.checkpointCh <- struct{}{}:
	default:
	}
}

func (e *Engine) runCheckpointWorker() {
	for {
		select {
		case <-e.checkpointCh:
			e.runCheckpoint()
		case <-e.ctx.Done():
			return
		}
	}
}

// runCheckpoint performs one background checkpoint, gated by the resource
// controller so checkpoints never crowd out foreground work.
func (e *Engine) runCheckpoint() {
	if err := e.controller.AcquireBackground(e.ctx); err != nil {
		return
	}
	defer e.controller.ReleaseBackground()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	if err := e.checkpointLocked(); err != nil {
		e.logger.Error("auto-checkpoint failed", "error", err)
	}
}
