package docbase

import (
	"testing"
	"time"
)

func mustAppend(t *testing.T, e *DocumentEngine, doc map[string]any) {
	t.Helper()
	done := make(chan error, 1)
	e.SubmitAppend(doc, func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("append timed out")
	}
}

func mustRead(t *testing.T, e *DocumentEngine, q *QueryBuilder) readResult {
	t.Helper()
	done := make(chan readResult, 1)
	errCh := make(chan error, 1)
	e.SubmitRead(q, false, func(err error, res readResult) {
		errCh <- err
		done <- res
	})
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read timed out")
	}
	return <-done
}

func TestScenarioS1FindAndScalars(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	c := db.Collection("docs")

	mustAppend(t, c, map[string]any{"id": "A", "n": float64(1)})
	mustAppend(t, c, map[string]any{"id": "B", "n": float64(2)})

	res := mustRead(t, c, NewQuery(c).Where("n", ">", float64(1)))
	if len(res.Docs) != 1 || res.Docs[0]["id"] != "B" {
		t.Fatalf("expected only B, got %#v", res.Docs)
	}

	res = mustRead(t, c, NewQuery(c).Scalar(ScalarCount, ""))
	if res.Scalar.Count != 2 {
		t.Fatalf("expected count=2, got %d", res.Scalar.Count)
	}

	res = mustRead(t, c, NewQuery(c).Scalar(ScalarSum, "n"))
	if res.Scalar.Sum != 3 {
		t.Fatalf("expected sum=3, got %v", res.Scalar.Sum)
	}
}

func TestScenarioS2InPlaceThenGrowingUpdate(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	c := db.Collection("docs")

	mustAppend(t, c, map[string]any{"id": "X", "active": true})

	before := c.Stats().FileSize

	done := make(chan int, 1)
	c.SubmitUpdate(NewQuery(c).Where("id", "==", "X").Merge(map[string]any{"active": false}), func(err error, n int) {
		if err != nil {
			t.Error(err)
		}
		done <- n
	})
	if n := <-done; n != 1 {
		t.Fatalf("expected 1 match, got %d", n)
	}
	_ = before

	res := mustRead(t, c, NewQuery(c).Where("id", "==", "X"))
	if len(res.Docs) != 1 || res.Docs[0]["active"] != false {
		t.Fatalf("expected active=false, got %#v", res.Docs)
	}

	// growing update: the old line is tombstoned and the new one appended
	grown := make(chan int, 1)
	c.SubmitUpdate(NewQuery(c).Where("id", "==", "X").Merge(map[string]any{"n": float64(5)}), func(err error, n int) {
		if err != nil {
			t.Error(err)
		}
		grown <- n
	})
	if n := <-grown; n != 1 {
		t.Fatalf("expected 1 match for growing update, got %d", n)
	}

	res = mustRead(t, c, NewQuery(c).Where("id", "==", "X"))
	if len(res.Docs) != 1 || res.Docs[0]["active"] != false || res.Docs[0]["n"] != float64(5) {
		t.Fatalf("expected one live doc with active=false, n=5, got %#v", res.Docs)
	}
}

func TestScenarioS5ConcurrentAppendsBatch(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	c := db.Collection("docs")

	n := 10
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		doc := map[string]any{"i": float64(i)}
		c.SubmitAppend(doc, func(err error) { results <- err })
	}
	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("append timed out")
		}
	}

	res := mustRead(t, c, NewQuery(c).Scalar(ScalarCount, ""))
	if res.Scalar.Count != n {
		t.Fatalf("expected %d docs, got %d", n, res.Scalar.Count)
	}
}

func TestScenarioS6RemoveThenClean(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	c := db.Collection("docs")

	mustAppend(t, c, map[string]any{"id": "1", "del": true})
	mustAppend(t, c, map[string]any{"id": "2", "del": false})

	done := make(chan int, 1)
	c.SubmitRemove(NewQuery(c).Where("del", "==", true), func(err error, n int) {
		if err != nil {
			t.Error(err)
		}
		done <- n
	})
	if n := <-done; n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}

	cleanDone := make(chan error, 1)
	c.Clean(func(err error) { cleanDone <- err })
	if err := <-cleanDone; err != nil {
		t.Fatal(err)
	}

	res := mustRead(t, c, NewQuery(c).Scalar(ScalarCount, ""))
	if res.Scalar.Count != 1 {
		t.Fatalf("expected 1 surviving doc after clean, got %d", res.Scalar.Count)
	}
}

func TestFirstMatchReturnsExactlyOneOrNone(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	c := db.Collection("docs")

	mustAppend(t, c, map[string]any{"id": "1"})
	mustAppend(t, c, map[string]any{"id": "2"})

	res := mustRead(t, c, NewQuery(c).Where("id", "==", "2").First())
	if len(res.Docs) != 1 || res.Docs[0]["id"] != "2" {
		t.Fatalf("expected exactly one match, got %#v", res.Docs)
	}

	res = mustRead(t, c, NewQuery(c).Where("id", "==", "missing").First())
	if len(res.Docs) != 0 {
		t.Fatalf("expected no match, got %#v", res.Docs)
	}
}
