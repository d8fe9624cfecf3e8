package docgo

import (
	"log/slog"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/engine"
	"github.com/hupe1980/docgo/internal/fs"
	"github.com/hupe1980/docgo/resource"
	"github.com/hupe1980/docgo/wal"
)

// DurabilityMode controls when commits become durable. See the engine
// package for the exact fsync behavior of each mode.
type DurabilityMode = engine.DurabilityMode

const (
	// Safe fsyncs the WAL and storage on every commit. The default.
	Safe = engine.Safe
	// Batch fsyncs the WAL on every commit and storage every BatchSize
	// commits. Acknowledged commits survive a crash.
	Batch = engine.Batch
	// Unsafe defers all fsync to explicit Flush calls. A crash can lose
	// recent commits.
	Unsafe = engine.Unsafe
)

type options struct {
	durability          DurabilityMode
	batchSize           int
	codec               codec.Codec
	metricsCollector    MetricsCollector
	logger              *Logger
	fs                  fs.FileSystem
	walOptions          []func(*wal.Options)
	autoCheckpointOps   int
	autoCheckpointBytes int64
	controller          *resource.Controller
}

// Option configures Open behavior.
type Option func(*options)

// WithDurability selects the durability mode. Defaults to Safe.
func WithDurability(mode DurabilityMode) Option {
	return func(o *options) {
		o.durability = mode
	}
}

// WithBatchSize sets the number of commits between storage syncs in Batch
// mode. Ignored in other modes.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithCodec configures the codec used for document payloads in the WAL and
// the data file. Existing databases keep the codec they were created with.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithWALOptions applies extra WAL configuration, e.g. zstd compression:
//
//	docgo.Open(dir, docgo.WithWALOptions(func(o *wal.Options) {
//	    o.Compress = true
//	}))
func WithWALOptions(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

// WithAutoCheckpoint enables background checkpoints once the WAL holds ops
// committed transactions or grows past bytes. Zero disables a threshold.
func WithAutoCheckpoint(ops int, bytes int64) Option {
	return func(o *options) {
		o.autoCheckpointOps = ops
		o.autoCheckpointBytes = bytes
	}
}

// WithResourceController gates background work (checkpoints, backups) and
// throttles their IO.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithFileSystem substitutes the file system used for the WAL and storage
// files. Tests inject fault-injecting implementations here.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		durability:       Safe,
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
