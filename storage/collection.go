package storage

import (
	"github.com/hupe1980/docgo/document"
)

// collection holds one collection's documents and field indexes in memory.
// The owning store's lock guards every access.
type collection struct {
	name    string
	docs    map[uint64]document.Document
	indexes map[string]*fieldIndex

	// lastID is the high-water mark for assigned document ids. It never
	// decreases, so reserved ids stay unique across deletes and restarts.
	lastID uint64
}

func newCollection(name string) *collection {
	return &collection{
		name:    name,
		docs:    make(map[uint64]document.Document),
		indexes: make(map[string]*fieldIndex),
	}
}

// put stores doc under id, replacing any previous version in the indexes.
func (c *collection) put(id uint64, doc document.Document) {
	if old, ok := c.docs[id]; ok {
		for _, fi := range c.indexes {
			fi.remove(id, old)
		}
	}

	c.docs[id] = doc
	for _, fi := range c.indexes {
		fi.add(id, doc)
	}

	if id > c.lastID {
		c.lastID = id
	}
}

// delete removes id from the collection and its indexes. Unknown ids are a
// no-op.
func (c *collection) delete(id uint64) {
	doc, ok := c.docs[id]
	if !ok {
		return
	}

	for _, fi := range c.indexes {
		fi.remove(id, doc)
	}
	delete(c.docs, id)
}

// ensureIndex creates the field index if missing and backfills it from the
// documents already present. Idempotent.
func (c *collection) ensureIndex(field string) {
	if _, ok := c.indexes[field]; ok {
		return
	}

	fi := newFieldIndex(field)
	for id, doc := range c.docs {
		fi.add(id, doc)
	}
	c.indexes[field] = fi
}

// dropIndex discards the field index. Unknown fields are a no-op.
func (c *collection) dropIndex(field string) {
	delete(c.indexes, field)
}

func (c *collection) indexedFields() []string {
	fields := make([]string, 0, len(c.indexes))
	for field := range c.indexes {
		fields = append(fields, field)
	}
	return fields
}

func (c *collection) raiseLastID(id uint64) {
	if id > c.lastID {
		c.lastID = id
	}
}
