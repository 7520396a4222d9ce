package streamfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.nosql")
	var data []byte
	for _, l := range lines {
		data = append(data, []byte(l)...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadSessionRoundTrip(t *testing.T) {
	path := writeTempFile(t, "one", "two", "three")

	rs, err := OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()

	var got []string
	err = rs.Run(func(batch Batch) (bool, error) {
		for _, ln := range batch {
			got = append(got, string(ln.Text))
		}
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReadSessionMissingFileIsEmptyNotError(t *testing.T) {
	rs, err := OpenRead(filepath.Join(t.TempDir(), "missing.nosql"))
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()

	called := false
	if err := rs.Run(func(batch Batch) (bool, error) { called = true; return false, nil }); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("expected zero batches for a missing file")
	}
}

func TestReadSessionStopsEarly(t *testing.T) {
	path := writeTempFile(t, "a", "b", "c", "d", "e")
	rs, err := OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()

	var got []string
	err = rs.Run(func(batch Batch) (bool, error) {
		for _, ln := range batch {
			got = append(got, string(ln.Text))
			if string(ln.Text) == "b" {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != "b" {
		t.Fatalf("expected early stop after 'b', got %v", got)
	}
}

func TestUpdateSessionAppendOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.nosql")
	us, err := OpenUpdate(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := us.WriteAppend([]byte{byte('0' + i), '\n'}); err != nil {
			t.Fatal(err)
		}
	}
	if err := us.Close(); err != nil {
		t.Fatal(err)
	}

	rs, err := OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	var got []string
	rs.Run(func(batch Batch) (bool, error) {
		for _, ln := range batch {
			got = append(got, string(ln.Text))
		}
		return false, nil
	})
	want := []string{"0", "1", "2", "3", "4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUpdateSessionWriteAtPreservesLength(t *testing.T) {
	path := writeTempFile(t, `{"active":true }`, `{"id":"x"}`)
	us, err := OpenUpdate(path)
	if err != nil {
		t.Fatal(err)
	}
	defer us.Close()

	replacement := []byte(`{"active":false}`)
	if len(replacement) != len(`{"active":true }`) {
		t.Fatalf("fixture lengths don't match: %d vs %d", len(replacement), len(`{"active":true }`))
	}
	if err := us.WriteAt(replacement, 0); err != nil {
		t.Fatal(err)
	}
	us.Close()

	rs, _ := OpenRead(path)
	defer rs.Close()
	var first string
	rs.Run(func(batch Batch) (bool, error) {
		first = string(batch[0].Text)
		return true, nil
	})
	if first != string(replacement) {
		t.Fatalf("got %q, want %q", first, replacement)
	}
}

func TestReverseReadSessionSymmetry(t *testing.T) {
	lines := []string{"one", "two", "three", "four"}
	path := writeTempFile(t, lines...)

	rrs, err := OpenReadReverse(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rrs.Close()

	var got []string
	err = rrs.Run(func(batch Batch) (bool, error) {
		for _, ln := range batch {
			got = append(got, string(ln.Text))
		}
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i, l := range lines {
		if got[len(got)-1-i] != l {
			t.Fatalf("reverse order mismatch: got %v, want reverse of %v", got, lines)
		}
	}
}

func TestRewriteDropsFilteredLines(t *testing.T) {
	path := writeTempFile(t, "-dead", "+alive1", "-dead2", "+alive2")

	err := Rewrite(path, func(line Line) ([]byte, bool) {
		if len(line.Text) > 0 && line.Text[0] == '-' {
			return nil, false
		}
		return line.Text, true
	})
	if err != nil {
		t.Fatal(err)
	}

	rs, _ := OpenRead(path)
	defer rs.Close()
	var got []string
	rs.Run(func(batch Batch) (bool, error) {
		for _, ln := range batch {
			got = append(got, string(ln.Text))
		}
		return false, nil
	})
	want := []string{"+alive1", "+alive2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
