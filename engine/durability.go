package engine

// DurabilityMode controls when commits become durable.
type DurabilityMode int

const (
	// Safe fsyncs the WAL on every commit and the storage files after every
	// apply. A crash loses nothing that was acknowledged.
	Safe DurabilityMode = iota

	// Batch fsyncs the WAL on every commit but syncs storage only every
	// BatchSize commits. A crash replays the tail of the WAL on the next
	// open; acknowledged commits are never lost.
	Batch

	// Unsafe skips fsync entirely: WAL appends are flushed to the OS but not
	// forced to disk, and storage syncs only on an explicit Flush. A crash
	// can lose recent commits. Useful for bulk loads and tests.
	Unsafe
)

func (m DurabilityMode) String() string {
	switch m {
	case Safe:
		return "safe"
	case Batch:
		return "batch"
	case Unsafe:
		return "unsafe"
	default:
		return "unknown"
	}
}
