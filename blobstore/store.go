package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("blob not found")

// BlobStore is an abstraction for storing immutable data blobs (backup
// archives and pointer objects).
//
// Blobs are written and read as whole streams. Put must be atomic: a reader
// never observes a partially written blob under its final name.
type BlobStore interface {
	// Put streams a new blob under name, replacing any existing blob with
	// the same name. Returns the number of bytes written.
	Put(ctx context.Context, name string, r io.Reader) (int64, error)

	// Open opens a blob for reading from the start.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob. Deleting a missing blob is a no-op.
	Delete(ctx context.Context, name string) error
}

// PutBytes is a convenience wrapper for small blobs such as pointer objects.
func PutBytes(ctx context.Context, store BlobStore, name string, data []byte) error {
	_, err := store.Put(ctx, name, bytes.NewReader(data))
	return err
}

// GetBytes reads a whole blob into memory.
func GetBytes(ctx context.Context, store BlobStore, name string) ([]byte, error) {
	rc, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}
