package docbase

import (
	"fmt"
	"os"

	"github.com/localdb/docbase/streamfile"
)

// SchemaTable specializes DocumentEngine with a declared, runtime column
// schema persisted as the data file's first line.
type SchemaTable struct {
	*DocumentEngine
}

// openSchemaTable initializes the engine's schema from the on-disk header if
// the file exists, otherwise from the caller-supplied schema, writing a
// fresh header for a brand new file. If the file is absent and schema is
// nil, the table opens successfully but every write fails with
// ErrSchemaMissing until Extend supplies one.
func openSchemaTable(name, dir string, schema *Schema, opt Options, ev *events) (*SchemaTable, error) {
	e := newEngine(name, dir, schema, opt, ev)
	e.isTable = true
	path := e.dataPath()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		nl := indexByte(raw, '\n')
		header := raw
		if nl >= 0 {
			header = raw[:nl]
		}
		hdrSchema, perr := parseSchemaHeader(header)
		if perr != nil {
			return nil, fmt.Errorf("docbase: table %s: %w", name, perr)
		}
		e.schema = hdrSchema
	case os.IsNotExist(err):
		if schema != nil {
			if werr := os.WriteFile(path, append(schema.encodeHeader(), '\n'), 0o644); werr != nil {
				return nil, ioErrf("write", path, werr)
			}
		}
	default:
		return nil, ioErrf("open", path, err)
	}

	return &SchemaTable{DocumentEngine: e}, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Extend re-encodes every live row through newSchema inside a lock
// section, then swaps the engine to the new schema. Schema tightening
// that drops columns is allowed; a dropped column's data is simply not
// carried into the new row.
func (t *SchemaTable) Extend(newSchema *Schema, done func(error)) {
	if t.opt.ReadOnly {
		done(ErrReadOnly)
		return
	}
	t.Lock(func(unlock func()) {
		defer unlock()
		oldSchema := t.schema
		first := true
		err := streamfile.Rewrite(t.dataPath(), func(line streamfile.Line) ([]byte, bool) {
			if first {
				first = false
				return newSchema.encodeHeader(), true
			}
			marker := byte(0)
			if len(line.Text) > 0 {
				marker = line.Text[0]
			}
			if marker == markerTomb {
				return nil, false
			}
			_, row, derr := decodeRow(oldSchema, line.Text, nil)
			if derr != nil {
				return nil, false
			}
			out, eerr := encodeRow(newSchema, row)
			if eerr != nil {
				return nil, false
			}
			return out, true
		})
		if err == nil {
			t.schema = newSchema
		}
		done(err)
	}, func(error) {})
}
