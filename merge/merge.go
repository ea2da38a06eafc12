// Package merge implements the bounded-fan-in k-way merge shared by the
// sorter's in-memory run pool drain and the spill manager's file-backed
// compaction and final emission. It never materializes a run: every read
// is streamed off the cursors it is handed.
package merge

import "github.com/nyxsort/extsort/queue"

// Cursor streams a single sorted run, in memory or file-backed. Peek
// returns the current element; Advance discards it and loads the next one.
// A freshly constructed Cursor must already have its first element loaded,
// so Peek is valid before any Advance call.
type Cursor[T any] interface {
	Peek() (T, bool)
	Advance() error
}

// Comparator reports whether a sorts strictly before b.
type Comparator[T any] func(a, b T) bool

// Sink receives the merged output in order.
type Sink[T any] func(v T) error

// Run drains cursors in non-decreasing order under less, calling sink once
// per record. Cursors that are already empty (Peek reports no element) are
// dropped before merging begins.
//
// The inner loop implements the streak optimization: once a cursor is
// known to be the minimum, it keeps emitting without any heap operation for
// as long as it remains less-than-or-equal to the second-smallest cursor,
// which is the common case when the inputs are already near-sorted.
func Run[T any](cursors []Cursor[T], less Comparator[T], sink Sink[T]) error {
	pq := queue.New(func(a, b Cursor[T]) bool {
		av, _ := a.Peek()
		bv, _ := b.Peek()
		return less(av, bv)
	})
	for _, c := range cursors {
		if _, ok := c.Peek(); ok {
			pq.Push(c)
		}
	}

	for pq.Len() > 1 {
		cur := pq.Pop()
		next := pq.Peek() // second-smallest of the original set; heap is not reshuffled by this

		v, _ := cur.Peek()
		if err := sink(v); err != nil {
			return err
		}
		if err := cur.Advance(); err != nil {
			return err
		}

		for {
			cv, ok := cur.Peek()
			if !ok {
				break
			}
			nv, nok := next.Peek()
			if nok && less(nv, cv) {
				break // next is now strictly smaller; cur's streak ends
			}
			if err := sink(cv); err != nil {
				return err
			}
			if err := cur.Advance(); err != nil {
				return err
			}
		}

		if _, ok := cur.Peek(); ok {
			pq.Push(cur)
		}
	}

	if pq.Len() == 1 {
		cur := pq.Pop()
		for {
			v, ok := cur.Peek()
			if !ok {
				break
			}
			if err := sink(v); err != nil {
				return err
			}
			if err := cur.Advance(); err != nil {
				return err
			}
		}
	}

	return nil
}
