package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/hupe1980/docgo/internal/fs"
)

const (
	catalogFilePrefix = "CATALOG"
	currentFileName   = "CURRENT"
	catalogVersion    = 1
)

// Catalog describes the store's collections at a specific point in time.
// It is saved atomically on every storage sync, so counters and index
// configuration land together with the fsynced data file.
type Catalog struct {
	Version     int              `json:"version"`
	ID          uint64           `json:"id"`
	Collections []CollectionInfo `json:"collections"`
}

// CollectionInfo describes a single collection.
type CollectionInfo struct {
	Name          string   `json:"name"`
	LastID        uint64   `json:"last_id"`
	IndexedFields []string `json:"indexed_fields,omitempty"`
}

// catalogStore manages the catalog file and its atomic updates. A CURRENT
// pointer file names the live catalog generation; readers never observe a
// half-written catalog because each generation is written to a temp file,
// fsynced, and renamed into place before CURRENT moves.
type catalogStore struct {
	fs  fs.FileSystem
	dir string
}

func newCatalogStore(fsys fs.FileSystem, dir string) *catalogStore {
	return &catalogStore{
		fs:  fsys,
		dir: dir,
	}
}

// Load reads the catalog generation named by CURRENT. A missing CURRENT
// means a fresh store and yields an empty catalog.
func (s *catalogStore) Load() (*Catalog, error) {
	readFile := func(path string) ([]byte, error) {
		f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	content, err := readFile(filepath.Join(s.dir, currentFileName))
	if os.IsNotExist(err) {
		return &Catalog{Version: catalogVersion}, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := readFile(filepath.Join(s.dir, string(content)))
	if err != nil {
		return nil, err
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	if c.Version != catalogVersion {
		return nil, fmt.Errorf("unsupported catalog version: %d (expected %d)", c.Version, catalogVersion)
	}

	return &c, nil
}

// Save atomically persists a new catalog generation and repoints CURRENT.
// The previous generation is removed best effort once CURRENT has moved.
func (s *catalogStore) Save(c *Catalog) error {
	c.Version = catalogVersion
	prevID := c.ID
	c.ID++

	sort.Slice(c.Collections, func(i, j int) bool {
		return c.Collections[i].Name < c.Collections[j].Name
	})
	for i := range c.Collections {
		sort.Strings(c.Collections[i].IndexedFields)
	}

	filename := fmt.Sprintf("%s-%06d.json", catalogFilePrefix, c.ID)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	if err := s.writeFileAtomic(filename, data); err != nil {
		return err
	}

	if err := s.writeFileAtomic(currentFileName, []byte(filename)); err != nil {
		return err
	}

	if prevID > 0 {
		prev := fmt.Sprintf("%s-%06d.json", catalogFilePrefix, prevID)
		_ = s.fs.Remove(filepath.Join(s.dir, prev))
	}

	return nil
}

func (s *catalogStore) writeFileAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmpPath)
		return err
	}

	if err := s.fs.Rename(tmpPath, path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return err
	}

	return fs.SyncDir(s.fs, s.dir)
}
