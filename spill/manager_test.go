package spill_test

import (
	"encoding/binary"
	"io"
	"os"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nyxsort/extsort/merge"
	"github.com/nyxsort/extsort/spill"
)

type int64Codec struct{}

func (int64Codec) Encode(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func (int64Codec) Decode(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func less(a, b int64) bool { return a < b }

func collectCursor(t *testing.T, c merge.Cursor[int64]) []int64 {
	t.Helper()
	var out []int64
	for {
		v, ok := c.Peek()
		if !ok {
			return out
		}
		out = append(out, v)
		if err := c.Advance(); err != nil {
			t.Fatalf("Advance() error = %v", err)
		}
	}
}

func TestSpillAndFinalCursors(t *testing.T) {
	dir := t.TempDir()
	m := spill.New[int64](dir, "spilltest_", int64Codec{}, less, 4, 0, zerolog.Nop())

	if err := m.Spill([]int64{1, 3, 5}); err != nil {
		t.Fatalf("Spill() error = %v", err)
	}
	if err := m.Spill([]int64{2, 4, 6}); err != nil {
		t.Fatalf("Spill() error = %v", err)
	}
	if !m.HasSpills() || m.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", m.Count())
	}

	cursors, err := m.FinalCursors()
	if err != nil {
		t.Fatalf("FinalCursors() error = %v", err)
	}
	var got []int64
	if err := merge.Run(cursors, less, func(v int64) error {
		got = append(got, v)
		return nil
	}); err != nil {
		t.Fatalf("merge.Run() error = %v", err)
	}
	want := []int64{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no run files left after a drained final merge, found %d", len(entries))
	}
}

func TestCompactToFanIn(t *testing.T) {
	dir := t.TempDir()
	m := spill.New[int64](dir, "spilltest_", int64Codec{}, less, 2, 0, zerolog.Nop())

	runs := [][]int64{{1, 9}, {2, 8}, {3, 7}, {4, 6}, {5}}
	for _, r := range runs {
		if err := m.Spill(r); err != nil {
			t.Fatalf("Spill() error = %v", err)
		}
	}
	if m.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", m.Count())
	}

	if err := m.CompactToFanIn(); err != nil {
		t.Fatalf("CompactToFanIn() error = %v", err)
	}
	if m.Count() > 2 {
		t.Fatalf("Count() = %d, want <= 2 after compaction", m.Count())
	}

	cursors, err := m.FinalCursors()
	if err != nil {
		t.Fatalf("FinalCursors() error = %v", err)
	}
	var got []int64
	if err := merge.Run(cursors, less, func(v int64) error {
		got = append(got, v)
		return nil
	}); err != nil {
		t.Fatalf("merge.Run() error = %v", err)
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
		t.Fatalf("output not sorted: %v", got)
	}
	if len(got) != 9 {
		t.Fatalf("got %d records, want 9", len(got))
	}
}

func TestRemoveAllDeletesOutstandingRuns(t *testing.T) {
	dir := t.TempDir()
	m := spill.New[int64](dir, "spilltest_", int64Codec{}, less, 4, 0, zerolog.Nop())

	if err := m.Spill([]int64{1, 2}); err != nil {
		t.Fatalf("Spill() error = %v", err)
	}
	if err := m.Spill([]int64{3, 4}); err != nil {
		t.Fatalf("Spill() error = %v", err)
	}
	if err := m.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if m.HasSpills() {
		t.Fatal("expected no outstanding runs after RemoveAll")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no run files left on disk, found %d", len(entries))
	}
}

func TestSpillFileNamePrefix(t *testing.T) {
	dir := t.TempDir()
	m := spill.New[int64](dir, "myprefix_", int64Codec{}, less, 4, 0, zerolog.Nop())
	if err := m.Spill([]int64{1}); err != nil {
		t.Fatalf("Spill() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
	if len(entries[0].Name()) < len("myprefix_") || entries[0].Name()[:len("myprefix_")] != "myprefix_" {
		t.Fatalf("unexpected file name %q, want myprefix_ prefix", entries[0].Name())
	}
	if err := m.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
}
