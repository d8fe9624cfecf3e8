// Package backup streams consistent snapshots of a database directory into
// a blobstore.BlobStore and restores them into fresh directories.
//
// A backup quiesces the database first: commits are blocked, storage is
// synced, and the WAL is checkpointed, so the archive captures a clean
// point-in-time state. Restoring unpacks the archive into an empty
// directory; opening that directory runs normal startup recovery.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/resource"
	"golang.org/x/sync/errgroup"
)

// LatestName is the pointer blob naming the newest archive.
const LatestName = "LATEST"

// Database is the database surface a backup needs. *docgo.DB and
// *engine.Engine both satisfy it.
type Database interface {
	// Dir returns the database directory.
	Dir() string

	// Quiesce checkpoints the database and runs fn while commits are
	// blocked and the on-disk files are stable.
	Quiesce(ctx context.Context, fn func() error) error
}

// Options configures Backup.
type Options struct {
	// Compression selects the archive compression. Defaults to zstd.
	Compression Compression

	// Controller throttles the backup's file reads and reserves a
	// background worker slot, so backups do not crowd out foreground
	// commits. Optional.
	Controller *resource.Controller

	// Logger receives backup progress events. Defaults to discard.
	Logger *slog.Logger
}

// Backup streams an archive of the database directory into store and
// advances the LATEST pointer. If name is empty, a timestamped name is
// generated. Returns the archive name and its compressed size.
func Backup(ctx context.Context, db Database, store blobstore.BlobStore, name string, optFns ...func(o *Options)) (string, int64, error) {
	opts := Options{Compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if name == "" {
		name = time.Now().UTC().Format("backup-20060102T150405.000000000.bak")
	}

	if opts.Controller != nil {
		if err := opts.Controller.AcquireBackground(ctx); err != nil {
			return "", 0, err
		}
		defer opts.Controller.ReleaseBackground()
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	// Producer: the database stays quiesced for as long as the archive is
	// being consumed, so the files cannot change mid-stream.
	g.Go(func() error {
		err := db.Quiesce(gctx, func() error {
			var w io.Writer = pw
			if opts.Controller != nil {
				w = resource.NewRateLimitedWriter(gctx, pw, opts.Controller)
			}
			return writeArchive(w, db.Dir(), opts.Compression)
		})
		pw.CloseWithError(err)
		return err
	})

	// Consumer: streams the archive into the blob store.
	var size int64
	g.Go(func() error {
		n, err := store.Put(gctx, name, pr)
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		size = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", 0, fmt.Errorf("backup %s: %w", name, err)
	}

	if err := blobstore.PutBytes(ctx, store, LatestName, []byte(name)); err != nil {
		return "", 0, fmt.Errorf("advance %s: %w", LatestName, err)
	}

	opts.Logger.Info("backup completed",
		"name", name,
		"bytes", size,
		"compression", opts.Compression.String(),
	)

	return name, size, nil
}

// writeArchive streams every database file in dir into one archive.
func writeArchive(w io.Writer, dir string, compression Compression) error {
	aw, err := newArchiveWriter(w, compression)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		err = aw.WriteEntry(entry.Name(), info.Size(), f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", entry.Name(), err)
		}
	}

	return aw.Close()
}

// Restore unpacks the named archive into dir, which must be empty or
// missing. An empty name resolves the LATEST pointer. The restored files
// are fsynced before Restore returns; opening dir afterwards runs normal
// startup recovery.
func Restore(ctx context.Context, store blobstore.BlobStore, name, dir string) error {
	if name == "" {
		target, err := blobstore.GetBytes(ctx, store, LatestName)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", LatestName, err)
		}
		name = string(target)
	}

	if err := ensureEmptyDir(dir); err != nil {
		return err
	}

	rc, err := store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()

	ar, err := newArchiveReader(rc)
	if err != nil {
		return err
	}
	defer ar.Close()

	for {
		entryName, r, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if !validEntryName(entryName) {
			return fmt.Errorf("%w: unsafe entry name %q", ErrArchiveCorrupt, entryName)
		}
		if err := restoreFile(filepath.Join(dir, entryName), r); err != nil {
			return fmt.Errorf("restore %s: %w", entryName, err)
		}
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

func ensureEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("restore target %s is not empty", dir)
	}
	return nil
}

// validEntryName rejects path traversal. Archives written by Backup only
// contain flat file names.
func validEntryName(name string) bool {
	return name != "" &&
		!strings.ContainsAny(name, `/\`) &&
		name != "." && name != ".."
}

func restoreFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
