package docbase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/localdb/docbase/counter"
)

// DB is the opaque root directory a collection of document engines and
// schema tables are resolved against, mirroring the teacher's top-level
// handle that owns every table's lifecycle.
type DB struct {
	dir string
	opt Options

	mu       sync.Mutex
	docs     map[string]*DocumentEngine
	tables   map[string]*SchemaTable
	counters map[string]*counter.Counter
	metas    map[string]*metaFile
}

// Open resolves dir as the database's root directory, creating it if
// necessary. No file is touched until a table or document collection is
// first opened against it.
func Open(dir string, opt Options) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErrf("open", dir, err)
	}
	return &DB{
		dir:      dir,
		opt:      opt.withDefaults(),
		docs:     make(map[string]*DocumentEngine),
		tables:   make(map[string]*SchemaTable),
		counters: make(map[string]*counter.Counter),
		metas:    make(map[string]*metaFile),
	}, nil
}

// Collection opens (or returns the already-open) free-form JSON document
// engine named name.
func (db *DB) Collection(name string) *DocumentEngine {
	db.mu.Lock()
	defer db.mu.Unlock()
	if e, ok := db.docs[name]; ok {
		return e
	}
	e := newEngine(name, db.dir, nil, db.opt, newEvents())
	db.docs[name] = e
	return e
}

// Table opens (or returns the already-open) fixed-schema table named
// name. schema may be nil if the table file already carries a header;
// if the file doesn't exist and schema is nil, every subsequent write
// fails with ErrSchemaMissing.
func (db *DB) Table(name string, schema *Schema) (*SchemaTable, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[name]; ok {
		return t, nil
	}
	t, err := openSchemaTable(name, db.dir, schema, db.opt, newEvents())
	if err != nil {
		return nil, err
	}
	db.tables[name] = t
	return t, nil
}

// Counter opens (or returns the already-open) counter engine named name.
func (db *DB) Counter(name string) *counter.Counter {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.counters[name]; ok {
		return c
	}
	c := counter.Open(filepath.Join(db.dir, name+".nosql-counter2"), db.opt.CounterFlushInterval)
	db.counters[name] = c
	return c
}

// Meta returns the freeform JSON sidecar for name, reading it from disk
// on first access. Changes are written back only by Close; there is no
// periodic flush.
func (db *DB) Meta(name string) *metaFile {
	db.mu.Lock()
	defer db.mu.Unlock()
	if m, ok := db.metas[name]; ok {
		return m
	}
	m := openMeta(filepath.Join(db.dir, name+".meta"))
	db.metas[name] = m
	return m
}

// Close flushes every open counter and meta sidecar. Document engines
// and tables have no buffered state beyond what's already on disk after
// their last completed operation, so they need no explicit close step.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var firstErr error
	for _, c := range db.counters {
		if err := c.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, m := range db.metas {
		if err := m.flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// metaFile is the JSON sidecar a caller can freely read and write;
// writes are buffered in RAM and flushed to disk by DB.Close, the way the
// teacher's schemastate.go treats its own versioned state blob.
type metaFile struct {
	path string
	mu   sync.Mutex
	data map[string]any
	dirt bool
}

func openMeta(path string) *metaFile {
	m := &metaFile{path: path, data: map[string]any{}}
	if raw, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(raw, &m.data)
	}
	return m
}

func (m *metaFile) Get(key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key]
}

func (m *metaFile) Set(key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	m.dirt = true
}

func (m *metaFile) flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirt {
		return nil
	}
	raw, err := json.Marshal(m.data)
	if err != nil {
		return fmt.Errorf("docbase: encode meta %s: %w", m.path, err)
	}
	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return ioErrf("write", m.path, err)
	}
	m.dirt = false
	return nil
}
