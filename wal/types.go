package wal

import (
	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/internal/fs"
)

// EntryKind identifies the type of a WAL entry.
type EntryKind uint8

const (
	// EntryBegin opens a transaction's entry group.
	EntryBegin EntryKind = iota + 1

	// EntryOperation carries one buffered operation of a transaction.
	// A transaction writes its operation entries between Begin and Commit,
	// in buffering order.
	EntryOperation

	// EntryCommit terminates a transaction's entry group. Only groups
	// terminated by a commit entry are replayed during recovery.
	EntryCommit

	// EntryAbort marks a rolled-back transaction. Informational: recovery
	// discards unterminated groups with or without the marker.
	EntryAbort
)

// OpKind identifies the type of a logged document operation.
type OpKind uint8

const (
	// OpInsert adds a new document.
	OpInsert OpKind = iota + 1
	// OpUpdate replaces an existing document.
	OpUpdate
	// OpDelete removes a document.
	OpDelete
)

// Operation is one document mutation carried by an EntryOperation entry.
//
// Document holds the codec-encoded payload and is nil for deletes. The codec
// name is recorded in the WAL file header, keeping the log self-describing.
type Operation struct {
	Kind       OpKind
	Collection string
	DocID      uint64
	Document   []byte
}

// Entry is a single entry in the WAL.
type Entry struct {
	Kind EntryKind
	TxID uint64
	Op   *Operation // set only for EntryOperation
}

// Options contains configuration for the WAL.
type Options struct {
	// FS abstracts file operations. Defaults to the local file system.
	// Tests inject fault-injecting implementations here.
	FS fs.FileSystem

	// Compress enables zstd compression of the entry stream (2-3x smaller,
	// slightly slower writes).
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22).
	// Default (3) provides a good balance.
	CompressionLevel int

	// Codec names the encoding of operation payloads. It is written to the
	// file header; reopening an existing WAL validates it against the header.
	Codec string
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	FS:               fs.Default,
	Compress:         false,
	CompressionLevel: 3,
	Codec:            codec.Default.Name(),
}
