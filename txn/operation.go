// Package txn holds in-memory transaction state: buffered operations, index
// changes, metadata deltas and the transaction table.
//
// A transaction buffers everything in memory until the commit coordinator
// writes it to the WAL and applies it to storage. Nothing in this package
// touches disk.
package txn

import (
	"github.com/hupe1980/docgo/document"
)

// OpKind identifies the type of a buffered operation.
type OpKind uint8

const (
	// OpInsert adds a new document.
	OpInsert OpKind = iota + 1
	// OpUpdate replaces an existing document.
	OpUpdate
	// OpDelete removes a document. Deleting an absent document is a no-op.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is one buffered document mutation.
//
// The document is deep-cloned by the constructors, so later mutations of the
// caller's map never leak into buffered state.
type Operation struct {
	Kind       OpKind
	Collection string
	DocID      uint64
	Document   document.Document // nil for deletes
}

// NewInsert buffers an insert of doc under id.
func NewInsert(collection string, id uint64, doc document.Document) Operation {
	return Operation{Kind: OpInsert, Collection: collection, DocID: id, Document: document.Clone(doc)}
}

// NewUpdate buffers a full replacement of the document under id.
func NewUpdate(collection string, id uint64, doc document.Document) Operation {
	return Operation{Kind: OpUpdate, Collection: collection, DocID: id, Document: document.Clone(doc)}
}

// NewDelete buffers a delete of the document under id.
func NewDelete(collection string, id uint64) Operation {
	return Operation{Kind: OpDelete, Collection: collection, DocID: id}
}

// IndexChangeKind identifies the type of a buffered index change.
type IndexChangeKind uint8

const (
	// IndexEnsure creates a field index if it does not exist.
	IndexEnsure IndexChangeKind = iota + 1
	// IndexDrop removes a field index if it exists.
	IndexDrop
)

func (k IndexChangeKind) String() string {
	switch k {
	case IndexEnsure:
		return "ensure"
	case IndexDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// IndexChange is a buffered secondary-index change, applied by the commit
// coordinator after the transaction's document operations.
type IndexChange struct {
	Collection string
	Field      string
	Kind       IndexChangeKind
}
