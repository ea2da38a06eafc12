package merge_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/nyxsort/extsort/merge"
)

func less(a, b int) bool { return a < b }

func collect(t *testing.T, runs [][]int) []int {
	t.Helper()
	cursors := make([]merge.Cursor[int], 0, len(runs))
	for _, r := range runs {
		cursors = append(cursors, merge.NewSliceCursor(r))
	}
	var got []int
	err := merge.Run(cursors, less, func(v int) error {
		got = append(got, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return got
}

func TestRunMergesSorted(t *testing.T) {
	runs := [][]int{
		{1, 4, 7, 10},
		{2, 3, 9},
		{5, 6, 8},
	}
	got := collect(t, runs)
	if !sort.IntsAreSorted(got) {
		t.Fatalf("output not sorted: %v", got)
	}

	var want []int
	for _, r := range runs {
		want = append(want, r...)
	}
	sort.Ints(want)

	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRunSingleCursor(t *testing.T) {
	got := collect(t, [][]int{{1, 2, 3}})
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRunSkipsEmptyCursors(t *testing.T) {
	got := collect(t, [][]int{{}, {1, 2}, {}})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
}

func TestRunNoCursors(t *testing.T) {
	got := collect(t, nil)
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestRunDuplicateKeys(t *testing.T) {
	got := collect(t, [][]int{{1, 1, 1}, {1, 1}})
	if len(got) != 5 {
		t.Fatalf("got %d records, want 5", len(got))
	}
	for _, v := range got {
		if v != 1 {
			t.Fatalf("got %v, want all 1s", got)
		}
	}
}

func TestRunPropagatesSinkError(t *testing.T) {
	wantErr := errors.New("boom")
	cursors := []merge.Cursor[int]{merge.NewSliceCursor([]int{1, 2, 3})}
	calls := 0
	err := merge.Run(cursors, less, func(v int) error {
		calls++
		if calls == 2 {
			return wantErr
		}
		return nil
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Fatalf("sink called %d times, want 2", calls)
	}
}

func TestRunPropagatesAdvanceError(t *testing.T) {
	wantErr := errors.New("disk fell over")
	cursors := []merge.Cursor[int]{&failingCursor{values: []int{1, 2}, failAt: 1, err: wantErr}}
	err := merge.Run(cursors, less, func(int) error { return nil })
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
}

// failingCursor fails Advance at a chosen step, to exercise merge error
// propagation without requiring real file I/O.
type failingCursor struct {
	values []int
	pos    int
	failAt int
	err    error
}

func (c *failingCursor) Peek() (int, bool) {
	if c.pos >= len(c.values) {
		return 0, false
	}
	return c.values[c.pos], true
}

func (c *failingCursor) Advance() error {
	if c.pos == c.failAt {
		return c.err
	}
	c.pos++
	return nil
}
