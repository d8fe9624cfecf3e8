// Package storage implements the document store the commit protocol applies
// into. Collections live in memory as id-to-document maps with optional
// inverted field indexes; every mutation is framed into an append-only data
// file, and collection metadata (id counters, indexed fields) is saved
// atomically as a catalog on sync. Reopening a store rebuilds memory from
// the catalog plus a CRC-checked scan of the data file.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/internal/fs"
	"github.com/hupe1980/docgo/txn"
)

var (
	// ErrConflict is returned when an insert targets an existing document id.
	ErrConflict = errors.New("document already exists")

	// ErrNotFound is returned when an update or read targets a missing
	// document.
	ErrNotFound = errors.New("document not found")

	// ErrNotIndexed is returned by FindIndexed when the field has no index.
	ErrNotIndexed = errors.New("field not indexed")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Options configures a Store.
type Options struct {
	// FS is the file system used for all store files.
	FS fs.FileSystem

	// Codec names the registered codec used to encode documents in the data
	// file. An existing data file keeps the codec it was created with.
	Codec string
}

// DefaultOptions are the defaults for opening a store.
var DefaultOptions = Options{
	FS:    fs.Default,
	Codec: codec.Default.Name(),
}

// Match is one result of an indexed lookup.
type Match struct {
	ID       uint64
	Document document.Document
}

// IndexReceipt acknowledges an applied index change. Receipts carry a
// store-wide sequence number so callers can correlate acknowledgements
// with the changes they forwarded.
type IndexReceipt struct {
	Seq        uint64
	Collection string
	Field      string
	Kind       txn.IndexChangeKind
}

// Stats summarizes the store's contents.
type Stats struct {
	Collections   int
	Documents     int
	IndexedFields int
	DataFileBytes int64
}

// Store is a document store safe for concurrent use. Writes are expected to
// arrive already serialized by a commit coordinator; the internal lock only
// protects readers against in-flight mutations.
type Store struct {
	mu          sync.RWMutex
	fsys        fs.FileSystem
	dir         string
	cdc         codec.Codec
	data        *dataFile
	catalog     *catalogStore
	catalogID   uint64
	collections map[string]*collection
	receiptSeq  atomic.Uint64
	closed      bool
}

// Open loads or creates a store in dir. It reads the catalog, replays the
// data file (tolerating a torn tail left by a crash), and rebuilds every
// indexed field.
func Open(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.Default
	}

	if err := fsys.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	catalog := newCatalogStore(fsys, dir)
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	data, err := openDataFile(fsys, filepath.Join(dir, DataFileName), opts.Codec)
	if err != nil {
		return nil, err
	}

	cdc, ok := codec.ByName(data.codecName)
	if !ok {
		_ = data.close()
		return nil, fmt.Errorf("unknown codec %q in data file header", data.codecName)
	}

	s := &Store{
		fsys:        fsys,
		dir:         dir,
		cdc:         cdc,
		data:        data,
		catalog:     catalog,
		catalogID:   cat.ID,
		collections: make(map[string]*collection),
	}

	// Seed collections from the catalog first so id counters and index
	// configuration survive even when a collection is currently empty.
	for _, info := range cat.Collections {
		c := newCollection(info.Name)
		c.lastID = info.LastID
		for _, field := range info.IndexedFields {
			c.ensureIndex(field)
		}
		s.collections[info.Name] = c
	}

	s.mu.Lock()
	err = data.load(func(kind recordKind, name string, docID uint64, raw []byte) error {
		c := s.getOrCreateLocked(name)
		switch kind {
		case recordPut:
			var doc document.Document
			if err := s.cdc.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode document %s/%d: %w", name, docID, err)
			}
			c.put(docID, doc)
		case recordTombstone:
			c.delete(docID)
		}
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		_ = data.close()
		return nil, err
	}

	return s, nil
}

// Codec reports the name of the codec documents are encoded with. For an
// existing store this is the codec recorded in the data file header, which
// wins over the configured one.
func (s *Store) Codec() string {
	return s.cdc.Name()
}

// Apply performs one committed operation: inserts fail with ErrConflict on
// an existing id, updates fail with ErrNotFound on a missing id, deletes of
// missing documents are a no-op.
func (s *Store) Apply(op txn.Operation) error {
	return s.apply(op, false)
}

// ApplyReplay performs one operation during recovery. It differs from Apply
// only in treating inserts and updates as upserts, so re-replaying an
// already applied commit group is idempotent.
func (s *Store) ApplyReplay(op txn.Operation) error {
	return s.apply(op, true)
}

func (s *Store) apply(op txn.Operation, replay bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	switch op.Kind {
	case txn.OpInsert:
		c := s.getOrCreateLocked(op.Collection)
		if _, ok := c.docs[op.DocID]; ok && !replay {
			return fmt.Errorf("%w: %s/%d", ErrConflict, op.Collection, op.DocID)
		}
		return s.putLocked(c, op.DocID, op.Document)

	case txn.OpUpdate:
		c := s.getOrCreateLocked(op.Collection)
		if _, ok := c.docs[op.DocID]; !ok && !replay {
			return fmt.Errorf("%w: %s/%d", ErrNotFound, op.Collection, op.DocID)
		}
		return s.putLocked(c, op.DocID, op.Document)

	case txn.OpDelete:
		c, ok := s.collections[op.Collection]
		if !ok {
			return nil
		}
		if _, ok := c.docs[op.DocID]; !ok {
			return nil
		}
		if err := s.data.append(recordTombstone, op.Collection, op.DocID, nil); err != nil {
			return err
		}
		c.delete(op.DocID)
		return nil

	default:
		return fmt.Errorf("storage: unknown operation kind %d", op.Kind)
	}
}

func (s *Store) putLocked(c *collection, id uint64, doc document.Document) error {
	raw, err := s.cdc.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s/%d: %w", c.name, id, err)
	}
	if err := s.data.append(recordPut, c.name, id, raw); err != nil {
		return err
	}
	c.put(id, doc)
	return nil
}

// ApplyIndexChange forwards an ensure or drop to the owning collection and
// returns a receipt. Both directions are idempotent. Index configuration
// becomes durable with the next Sync, and indexes are always rebuildable
// from the documents themselves.
func (s *Store) ApplyIndexChange(ch txn.IndexChange) (IndexReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return IndexReceipt{}, ErrClosed
	}

	c := s.getOrCreateLocked(ch.Collection)

	switch ch.Kind {
	case txn.IndexEnsure:
		c.ensureIndex(ch.Field)
	case txn.IndexDrop:
		c.dropIndex(ch.Field)
	default:
		return IndexReceipt{}, fmt.Errorf("storage: unknown index change kind %d", ch.Kind)
	}

	return IndexReceipt{
		Seq:        s.receiptSeq.Add(1),
		Collection: ch.Collection,
		Field:      ch.Field,
		Kind:       ch.Kind,
	}, nil
}

// ApplyMetaDelta raises the collection's last-assigned-id high-water mark.
// The mark never decreases.
func (s *Store) ApplyMetaDelta(collection string, lastID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.getOrCreateLocked(collection).raiseLastID(lastID)

	return nil
}

// Sync makes all applied operations durable: it fsyncs the data file and
// then atomically saves the catalog, so counters and index configuration
// land together with the data.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.data.sync(); err != nil {
		return fmt.Errorf("sync data file: %w", err)
	}

	cat := &Catalog{ID: s.catalogID}
	for name, c := range s.collections {
		cat.Collections = append(cat.Collections, CollectionInfo{
			Name:          name,
			LastID:        c.lastID,
			IndexedFields: c.indexedFields(),
		})
	}

	if err := s.catalog.Save(cat); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	s.catalogID = cat.ID

	return nil
}

// Get returns a copy of the document, or ErrNotFound.
func (s *Store) Get(collection string, id uint64) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, collection, id)
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, collection, id)
	}

	return document.Clone(doc), nil
}

// Has reports whether the document exists.
func (s *Store) Has(collection string, id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return false
	}
	_, ok = c.docs[id]

	return ok
}

// Count returns the number of documents in the collection. Unknown
// collections count zero.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0
	}

	return len(c.docs)
}

// Collections returns the sorted collection names.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// IndexedFields returns the sorted indexed field names of a collection.
func (s *Store) IndexedFields(collection string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil
	}

	fields := c.indexedFields()
	sort.Strings(fields)

	return fields
}

// FindIndexed returns all documents whose field equals value, in ascending
// id order, via the field's posting list. The field must be indexed.
func (s *Store) FindIndexed(collection, field string, value any) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", ErrNotFound, collection)
	}
	fi, ok := c.indexes[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotIndexed, collection, field)
	}

	bm := fi.lookup(value)
	if bm == nil {
		return nil, nil
	}

	matches := make([]Match, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		doc, ok := c.docs[id]
		if !ok {
			continue
		}
		matches = append(matches, Match{ID: id, Document: document.Clone(doc)})
	}

	return matches, nil
}

// NextID reserves the next document id for a collection. Reservations are
// durable from the next Sync on; ids reserved but never inserted may be
// reissued after a crash.
func (s *Store) NextID(collection string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	c := s.getOrCreateLocked(collection)
	c.lastID++

	return c.lastID, nil
}

// LastAssignedID reports the collection's current id high-water mark.
func (s *Store) LastAssignedID(collection string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0
	}

	return c.lastID
}

// Stats summarizes the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Collections:   len(s.collections),
		DataFileBytes: s.data.size,
	}
	for _, c := range s.collections {
		st.Documents += len(c.docs)
		st.IndexedFields += len(c.indexes)
	}

	return st
}

// Close flushes and closes the data file. It does not sync; callers that
// need durability call Sync first. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.data.close()
}

// getOrCreateLocked returns the named collection, creating it on first use.
// Caller must hold s.mu.
func (s *Store) getOrCreateLocked(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = newCollection(name)
		s.collections[name] = c
	}
	return c
}
