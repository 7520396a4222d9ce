package docbase

import (
	"testing"
	"time"
)

func TestScenarioS3TableEscapedRow(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	schema := NewSchema(
		Column{Name: "id", Type: ColumnString},
		Column{Name: "name", Type: ColumnString},
		Column{Name: "dt", Type: ColumnDate},
		Column{Name: "meta", Type: ColumnObject},
	)
	tbl, err := db.Table("people", schema)
	if err != nil {
		t.Fatal(err)
	}

	mustAppend(t, tbl.DocumentEngine, map[string]any{
		"id":   "1",
		"name": "a|b",
		"dt":   time.UnixMilli(0),
		"meta": map[string]any{"x": "y\n"},
	})

	res := mustRead(t, tbl.DocumentEngine, NewQuery(tbl.DocumentEngine).Where("id", "==", "1"))
	if len(res.Docs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Docs))
	}
	if res.Docs[0]["name"] != "a|b" {
		t.Fatalf("expected name 'a|b', got %v", res.Docs[0]["name"])
	}
}

func TestTableMissingSchemaRejectsWrites(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	tbl, err := db.Table("noschema", nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	tbl.SubmitAppend(map[string]any{"id": "1"}, func(err error) { done <- err })
	if err := <-done; err != ErrSchemaMissing {
		t.Fatalf("expected ErrSchemaMissing, got %v", err)
	}
}
