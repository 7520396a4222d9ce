package docbase

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testSchema() *Schema {
	return NewSchema(
		Column{Name: "id", Type: ColumnString},
		Column{Name: "name", Type: ColumnString},
		Column{Name: "dt", Type: ColumnDate},
		Column{Name: "meta", Type: ColumnObject},
	)
}

func TestTableRowRoundTrip(t *testing.T) {
	schema := testSchema()
	row := map[string]any{
		"id":   "1",
		"name": "plain",
		"dt":   time.UnixMilli(1700000000000),
		"meta": map[string]any{"x": "y"},
	}
	line, err := encodeRow(schema, row)
	if err != nil {
		t.Fatal(err)
	}
	if line[0] != markerLive {
		t.Fatalf("expected live marker, got %q", line[0])
	}
	marker, got, err := decodeRow(schema, line, nil)
	if err != nil {
		t.Fatal(err)
	}
	if marker != markerLive {
		t.Fatalf("marker mismatch: %q", marker)
	}
	if diff := cmp.Diff(row, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTableRowEscaping(t *testing.T) {
	schema := testSchema()
	row := map[string]any{
		"id":   "s3",
		"name": "a|b",
		"dt":   time.UnixMilli(0),
		"meta": map[string]any{"x": "y\n"},
	}
	line, err := encodeRow(schema, row)
	if err != nil {
		t.Fatal(err)
	}
	if line[0] != markerEscaped {
		t.Fatalf("expected escaped marker for row containing '|', got %q", line[0])
	}
	marker, got, err := decodeRow(schema, line, nil)
	if err != nil {
		t.Fatal(err)
	}
	if marker != markerEscaped {
		t.Fatalf("marker mismatch: %q", marker)
	}
	if got["name"] != "a|b" {
		t.Fatalf("expected unescaped name %q, got %q", "a|b", got["name"])
	}
	metaMap, ok := got["meta"].(map[string]any)
	if !ok || metaMap["x"] != "y\n" {
		t.Fatalf("expected unescaped meta.x with embedded newline, got %#v", got["meta"])
	}
}

func TestSchemaHeaderRoundTrip(t *testing.T) {
	schema := testSchema()
	header := schema.encodeHeader()
	got, err := parseSchemaHeader(header)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Columns) != len(schema.Columns) {
		t.Fatalf("got %d columns, want %d", len(got.Columns), len(schema.Columns))
	}
	for i, c := range schema.Columns {
		if got.Columns[i] != c {
			t.Fatalf("column %d mismatch: got %+v, want %+v", i, got.Columns[i], c)
		}
	}
}
