package docbase

import "testing"

func TestCompareValuesNumbers(t *testing.T) {
	if !compareOp(float64(2), ">", float64(1)) {
		t.Fatal("expected 2 > 1")
	}
	if compareOp(float64(1), ">", float64(2)) {
		t.Fatal("expected 1 > 2 to be false")
	}
}

func TestWherePredicateMatches(t *testing.T) {
	b := NewQuery(nil).Where("n", ">", float64(1))
	eval := buildEval(b.nodes)
	if !eval(map[string]any{"n": float64(2)}) {
		t.Fatal("expected n=2 to satisfy n>1")
	}
	if eval(map[string]any{"n": float64(1)}) {
		t.Fatal("expected n=1 to fail n>1")
	}
}

func TestOrGroupIsDisjunctive(t *testing.T) {
	b := NewQuery(nil).Or().Where("a", "==", "x").Where("b", "==", "y").End()
	eval := buildEval(b.nodes)
	if !eval(map[string]any{"a": "x", "b": "z"}) {
		t.Fatal("expected match via a==x")
	}
	if !eval(map[string]any{"a": "q", "b": "y"}) {
		t.Fatal("expected match via b==y")
	}
	if eval(map[string]any{"a": "q", "b": "z"}) {
		t.Fatal("expected no match")
	}
}

func TestAndOutsideGroupIsConjunctive(t *testing.T) {
	b := NewQuery(nil).Where("a", "==", "x").Where("b", "==", "y")
	eval := buildEval(b.nodes)
	if eval(map[string]any{"a": "x", "b": "z"}) {
		t.Fatal("expected both terms required")
	}
	if !eval(map[string]any{"a": "x", "b": "y"}) {
		t.Fatal("expected match when both hold")
	}
}

func TestInAndNotIn(t *testing.T) {
	b := NewQuery(nil).In("status", []any{"a", "b"})
	eval := buildEval(b.nodes)
	if !eval(map[string]any{"status": "a"}) {
		t.Fatal("expected 'a' to be in [a,b]")
	}
	if eval(map[string]any{"status": "c"}) {
		t.Fatal("expected 'c' to not be in [a,b]")
	}
}

func TestCompileCachesByID(t *testing.T) {
	b1 := NewQuery(nil).Where("x", "==", float64(1)).ID("cached")
	b2 := NewQuery(nil).Where("x", "==", float64(2)).ID("cached")
	if b1.compiled() != b2.compiled() {
		t.Fatal("expected same id to return the same cached compiled predicate")
	}
}
