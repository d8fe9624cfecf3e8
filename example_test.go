package docgo_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/docgo"
	"github.com/hupe1980/docgo/backup"
	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/document"
)

func Example() {
	dir, err := os.MkdirTemp("", "docgo-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()

	db, err := docgo.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		log.Fatal(err)
	}
	if err := tx.InsertWithID("users", 1, document.Document{"name": "alice"}); err != nil {
		log.Fatal(err)
	}
	if err := tx.InsertWithID("users", 2, document.Document{"name": "bob"}); err != nil {
		log.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatal(err)
	}

	doc, err := db.Get("users", 1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(doc["name"])
	fmt.Println(db.Count("users"))
	// Output:
	// alice
	// 2
}

func ExampleTx_Rollback() {
	dir, err := os.MkdirTemp("", "docgo-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := docgo.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		log.Fatal(err)
	}
	if err := tx.InsertWithID("users", 1, document.Document{"name": "alice"}); err != nil {
		log.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		log.Fatal(err)
	}

	fmt.Println(db.Has("users", 1))
	// Output:
	// false
}

func ExampleDB_Find() {
	dir, err := os.MkdirTemp("", "docgo-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()

	db, err := docgo.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		log.Fatal(err)
	}
	_ = tx.InsertWithID("users", 1, document.Document{"name": "alice", "city": "berlin"})
	_ = tx.InsertWithID("users", 2, document.Document{"name": "bob", "city": "oslo"})
	_ = tx.EnsureIndex("users", "city")
	if err := tx.Commit(ctx); err != nil {
		log.Fatal(err)
	}

	matches, err := db.Find(ctx, "users", "city", "berlin")
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range matches {
		fmt.Println(m.ID, m.Document["name"])
	}
	// Output:
	// 1 alice
}

func ExampleDB_Backup() {
	dir, err := os.MkdirTemp("", "docgo-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()

	db, err := docgo.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Insert(ctx, "users", document.Document{"name": "alice"}); err != nil {
		log.Fatal(err)
	}

	store := blobstore.NewMemoryStore()
	name, _, err := db.Backup(ctx, store, "nightly.bak")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(name)

	restoreDir, err := os.MkdirTemp("", "docgo-restore")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(restoreDir)
	restoreDir += "/db"

	if err := backup.Restore(ctx, store, "", restoreDir); err != nil {
		log.Fatal(err)
	}

	restored, err := docgo.Open(restoreDir)
	if err != nil {
		log.Fatal(err)
	}
	defer restored.Close()

	fmt.Println(restored.Count("users"))
	// Output:
	// nightly.bak
	// 1
}
