package docbase

import (
	"testing"
	"time"
)

func TestBooleanTogglePreservesLength(t *testing.T) {
	trueDoc := map[string]any{"active": true, "id": "x"}
	falseDoc := map[string]any{"active": false, "id": "x"}

	trueLine, err := encodeJSON(trueDoc)
	if err != nil {
		t.Fatal(err)
	}
	falseLine, err := encodeJSON(falseDoc)
	if err != nil {
		t.Fatal(err)
	}
	if len(trueLine) != len(falseLine) {
		t.Fatalf("true encodes to %d bytes (%s), false to %d bytes (%s)", len(trueLine), trueLine, len(falseLine), falseLine)
	}
}

func TestBooleanPaddingSkipsStringContent(t *testing.T) {
	doc := map[string]any{"note": "a,true,b", "active": true}
	line, err := encodeJSON(doc)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeJSON(line)
	if err != nil {
		t.Fatal(err)
	}
	if got["note"] != "a,true,b" {
		t.Fatalf("string value corrupted by boolean padding: got %q", got["note"])
	}
	if got["active"] != true {
		t.Fatalf("expected active=true, got %v", got["active"])
	}
}

func TestJSONRoundTrip(t *testing.T) {
	doc := map[string]any{"id": "A", "n": float64(1), "active": true}
	line, err := encodeJSON(doc)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeJSON(line)
	if err != nil {
		t.Fatal(err)
	}
	if got["id"] != "A" || got["n"] != float64(1) || got["active"] != true {
		t.Fatalf("round trip mismatch: %#v", got)
	}
}

func TestJSONDecodeReparsesISODates(t *testing.T) {
	line := []byte(`{"created":"2024-01-02T03:04:05Z"}`)
	doc, err := decodeJSON(line)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := doc["created"].(time.Time)
	if !ok {
		t.Fatalf("expected created to reparse to time.Time, got %T", doc["created"])
	}
	if got.Year() != 2024 {
		t.Fatalf("got year %d, want 2024", got.Year())
	}
}
