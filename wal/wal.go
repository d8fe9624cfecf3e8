// Package wal provides the write-ahead log backing docgo transactions.
//
// The log is a single append-only file of checksummed entries. A committing
// transaction appends a Begin entry, one Operation entry per buffered
// operation, and a Commit entry, then fsyncs; the fsync of the Commit entry
// is the durability point. Recovery replays only groups terminated by a
// Commit entry and treats the first corrupt or truncated entry as the end of
// the valid log, so a torn write at crash time never poisons earlier
// transactions.
//
// Features:
//   - CRC32-framed binary entries (torn-tail tolerant)
//   - Optional zstd compression of the entry stream
//   - Self-describing header (format version, compression, payload codec)
//   - Reset support for checkpoint truncation
package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/docgo/internal/fs"
)

// FileName is the name of the WAL file inside a database directory.
const FileName = "docgo.wal"

// WAL is an append-only, checksummed log of transaction entries.
//
// Append buffers entries in memory; Flush pushes them to the OS and Sync
// makes them durable. The commit coordinator decides when each happens.
type WAL struct {
	mu sync.Mutex

	fsys       fs.FileSystem
	file       fs.File
	bw         *bufio.Writer
	compressor *zstd.Encoder

	path       string
	compressed bool
	level      int
	codecName  string
	dataOffset int64

	scratch   []byte
	committed int // commit entries since open/reset
	closed    bool
}

// Open opens or creates the WAL inside dir.
//
// An existing file wins over the passed options: compression and payload
// codec are read back from its header.
func Open(dir string, optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Codec == "" {
		opts.Codec = DefaultOptions.Codec
	}

	if err := opts.FS.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	file, err := opts.FS.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat WAL file: %w", err)
	}

	w := &WAL{
		fsys:       opts.FS,
		file:       file,
		path:       path,
		compressed: opts.Compress,
		level:      opts.CompressionLevel,
		codecName:  opts.Codec,
	}

	if st.Size() == 0 {
		hdrLen, err := writeHeader(file, headerInfo{
			Compressed:       w.compressed,
			CompressionLevel: w.level,
			Codec:            w.codecName,
		})
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		if err := file.Sync(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("sync WAL header: %w", err)
		}
		w.dataOffset = hdrLen
	} else {
		hdr, err := readHeader(file)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		w.dataOffset = hdr.HeaderLen
		w.compressed = hdr.Compressed
		w.level = hdr.CompressionLevel
		w.codecName = hdr.Codec
	}

	// Position at the end for appending.
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("seek WAL end: %w", err)
	}

	if err := w.buildWriterLocked(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return w, nil
}

func (w *WAL) buildWriterLocked() error {
	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.level)
		enc, err := zstd.NewWriter(w.file, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("create compressor: %w", err)
		}
		w.compressor = enc
		w.bw = bufio.NewWriter(enc)
	} else {
		w.compressor = nil
		w.bw = bufio.NewWriter(w.file)
	}
	return nil
}

// Path returns the path of the WAL file.
func (w *WAL) Path() string { return w.path }

// Codec returns the payload codec name recorded in the file header.
func (w *WAL) Codec() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.codecName
}

// Append buffers an entry. It does not flush or fsync.
func (w *WAL) Append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}

	buf, err := encodeEntry(w.scratch[:0], &e)
	if err != nil {
		return err
	}
	w.scratch = buf[:0]

	if _, err := w.bw.Write(buf); err != nil {
		return fmt.Errorf("append WAL entry: %w", err)
	}
	if e.Kind == EntryCommit {
		w.committed++
	}
	return nil
}

// Flush pushes buffered entries to the operating system without fsync.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush WAL buffer: %w", err)
	}
	if w.compressor != nil {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("flush WAL compressor: %w", err)
		}
	}
	return nil
}

// Sync flushes buffered entries and fsyncs the file. This is the durability
// point of the commit protocol.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync WAL: %w", err)
	}
	return nil
}

// Size returns the current on-disk size of the WAL in bytes. Buffered but
// unflushed entries are not counted.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}
	st, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// CommittedSinceReset returns the number of commit entries appended since
// the WAL was opened or last reset. Checkpoint policies consume this.
func (w *WAL) CommittedSinceReset() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.committed
}

// Reset truncates the log to an empty, valid state. Callers must have made
// the logged state durable elsewhere first (checkpoint contract).
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}

	// Buffered bytes are discarded together with the file contents.
	w.bw.Reset(io.Discard)
	if w.compressor != nil {
		_ = w.compressor.Close()
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close WAL for reset: %w", err)
	}

	file, err := w.fsys.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("truncate WAL file: %w", err)
	}
	w.file = file

	hdrLen, err := writeHeader(file, headerInfo{
		Compressed:       w.compressed,
		CompressionLevel: w.level,
		Codec:            w.codecName,
	})
	if err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync WAL header: %w", err)
	}
	w.dataOffset = hdrLen
	w.committed = 0

	return w.buildWriterLocked()
}

// Close flushes buffered entries and closes the file. Close is idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.bw.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("flush WAL buffer: %w", err)
	}
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			_ = w.file.Close()
			return fmt.Errorf("close WAL compressor: %w", err)
		}
	}
	return w.file.Close()
}

// Reader returns an iterator over the log from the start, reading through an
// independent file handle. Callers must Close it.
//
// Entries still sitting in the append buffer are not visible; call Flush or
// Sync first when that matters.
func (w *WAL) Reader() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, os.ErrClosed
	}

	f, err := w.fsys.OpenFile(w.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open WAL for read: %w", err)
	}
	if _, err := f.Seek(w.dataOffset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek WAL data offset: %w", err)
	}

	r := &Reader{f: f}
	if w.compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("create decompressor: %w", err)
		}
		r.dec = dec
		r.r = bufio.NewReader(dec)
	} else {
		r.r = bufio.NewReader(f)
	}
	return r, nil
}

// Reader iterates over WAL entries.
type Reader struct {
	f   fs.File
	dec *zstd.Decoder
	r   *bufio.Reader
}

// Next returns the next entry. It returns io.EOF at a clean end of the log
// and an ErrCorrupt-wrapped error at a torn or corrupted entry.
func (r *Reader) Next() (*Entry, error) {
	return decodeEntry(r.r)
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	return r.f.Close()
}
