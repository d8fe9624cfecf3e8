package engine

import (
	"log/slog"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/internal/fs"
	"github.com/hupe1980/docgo/resource"
	"github.com/hupe1980/docgo/wal"
)

// Options configures an Engine.
type Options struct {
	// FS abstracts file operations for the WAL and the store. Tests inject
	// fault-injecting implementations here.
	FS fs.FileSystem

	// Durability selects the fsync policy. See DurabilityMode.
	Durability DurabilityMode

	// BatchSize is the number of commits between storage syncs in Batch
	// mode. Ignored in other modes.
	BatchSize int

	// Codec names the registered codec for documents in the WAL and the
	// data file. Existing files keep the codec they were created with.
	Codec string

	// Logger receives structured engine events. Defaults to a discarding
	// logger.
	Logger *slog.Logger

	// WALOptions are applied on top of the engine's WAL configuration.
	WALOptions []func(*wal.Options)

	// AutoCheckpointOps triggers a background checkpoint once this many
	// committed transactions accumulated in the WAL since the last reset.
	// Zero disables the threshold.
	AutoCheckpointOps int

	// AutoCheckpointBytes triggers a background checkpoint once the WAL file
	// grows past this size. Zero disables the threshold.
	AutoCheckpointBytes int64

	// Controller gates background work (checkpoints) and throttles their IO.
	// Defaults to a controller allowing one background job.
	Controller *resource.Controller
}

// DefaultOptions are the defaults for opening an engine.
var DefaultOptions = Options{
	FS:         fs.Default,
	Durability: Safe,
	BatchSize:  16,
	Codec:      codec.Default.Name(),
}
