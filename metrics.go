package docgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    commitCounter   prometheus.Counter
//	    commitHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordCommit(operations int, duration time.Duration, err error) {
//	    p.commitCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordCommit is called after each commit attempt.
	// operations is the number of buffered operations, duration is the total
	// time taken, err is nil if successful.
	RecordCommit(operations int, duration time.Duration, err error)

	// RecordRollback is called after each rollback.
	RecordRollback(duration time.Duration, err error)

	// RecordFind is called after each indexed lookup.
	// results is the number of matches returned.
	RecordFind(results int, duration time.Duration, err error)

	// RecordFlush is called after each manual or background checkpoint
	// triggered through the facade.
	RecordFlush(duration time.Duration, err error)

	// RecordRecovery is called once per Open that replayed committed
	// transactions from the WAL.
	RecordRecovery(transactionsReplayed uint64, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCommit(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordRollback(time.Duration, error)     {}
func (NoopMetricsCollector) RecordFind(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)        {}
func (NoopMetricsCollector) RecordRecovery(uint64, time.Duration)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitOperations atomic.Int64
	CommitTotalNanos atomic.Int64
	RollbackCount    atomic.Int64
	RollbackErrors   atomic.Int64
	FindCount        atomic.Int64
	FindErrors       atomic.Int64
	FindTotalNanos   atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	RecoveryCount    atomic.Int64
	RecoveredTxCount atomic.Int64
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(operations int, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitOperations.Add(int64(operations))
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordRollback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRollback(duration time.Duration, err error) {
	b.RollbackCount.Add(1)
	if err != nil {
		b.RollbackErrors.Add(1)
	}
}

// RecordFind implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFind(results int, duration time.Duration, err error) {
	b.FindCount.Add(1)
	b.FindTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FindErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordRecovery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecovery(transactionsReplayed uint64, duration time.Duration) {
	b.RecoveryCount.Add(1)
	b.RecoveredTxCount.Add(int64(transactionsReplayed)) //nolint:gosec // replay counts stay far below MaxInt64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CommitCount:      b.CommitCount.Load(),
		CommitErrors:     b.CommitErrors.Load(),
		CommitOperations: b.CommitOperations.Load(),
		CommitAvgNanos:   b.getAvgCommitNanos(),
		RollbackCount:    b.RollbackCount.Load(),
		RollbackErrors:   b.RollbackErrors.Load(),
		FindCount:        b.FindCount.Load(),
		FindErrors:       b.FindErrors.Load(),
		FindAvgNanos:     b.getAvgFindNanos(),
		FlushCount:       b.FlushCount.Load(),
		FlushErrors:      b.FlushErrors.Load(),
		RecoveryCount:    b.RecoveryCount.Load(),
		RecoveredTxCount: b.RecoveredTxCount.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgCommitNanos() int64 {
	count := b.CommitCount.Load()
	if count == 0 {
		return 0
	}
	return b.CommitTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgFindNanos() int64 {
	count := b.FindCount.Load()
	if count == 0 {
		return 0
	}
	return b.FindTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CommitCount      int64
	CommitErrors     int64
	CommitOperations int64
	CommitAvgNanos   int64
	RollbackCount    int64
	RollbackErrors   int64
	FindCount        int64
	FindErrors       int64
	FindAvgNanos     int64
	FlushCount       int64
	FlushErrors      int64
	RecoveryCount    int64
	RecoveredTxCount int64
}
