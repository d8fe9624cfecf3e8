// Package docgo provides an embedded, document-oriented storage engine for Go.
//
// Docgo stores schemaless JSON-like documents in named collections and makes
// every mutation transactional: operations are buffered in a transaction,
// validated, written to a write-ahead log, and only then applied to storage.
// A crash at any point either replays a committed transaction completely or
// discards it completely.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := docgo.Open("./data")
//	defer db.Close()
//
//	// Single-document conveniences run a one-operation transaction each.
//	id, _ := db.Insert(ctx, "users", document.Document{"name": "alice"})
//	doc, _ := db.Get("users", id)
//
// # Transactions
//
// Multi-operation atomicity goes through an explicit transaction:
//
//	tx, _ := db.Begin()
//	tx.InsertWithID("users", 1, document.Document{"name": "alice"})
//	tx.InsertWithID("users", 2, document.Document{"name": "bob"})
//	if err := tx.Commit(ctx); err != nil {
//	    // nothing was applied
//	}
//
// # Durability Model
//
// Commits are fsynced to the write-ahead log before they are applied.
// Three modes trade safety against throughput:
//
//	docgo.Safe    // fsync WAL and storage on every commit (default)
//	docgo.Batch   // fsync WAL per commit, sync storage every N commits
//	docgo.Unsafe  // no fsync; data survives process crashes, not power loss
//
// # Key Features
//
//   - Atomic multi-operation transactions with WAL-backed crash recovery
//   - Secondary field indexes (Roaring Bitmap postings) with equality lookups
//   - Pluggable document codecs (JSON by default)
//   - Optional zstd WAL compression
//   - Auto-checkpointing by commit count or WAL size
//   - Backups to local directories, S3, or MinIO
package docgo
