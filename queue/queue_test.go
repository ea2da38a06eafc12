package queue_test

import (
	"math/rand"
	"testing"

	"github.com/nyxsort/extsort/queue"
)

func less(a, b int) bool { return a < b }

func TestOrdering(t *testing.T) {
	q := queue.New(less)
	want := []int{5, 3, 8, 1, 9, 1, 2}
	for _, v := range want {
		q.Push(v)
	}
	if q.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", q.Len(), len(want))
	}

	var got []int
	for q.Len() > 0 {
		got = append(got, q.Peek())
		got[len(got)-1] = q.Pop()
	}

	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("output not sorted: %v", got)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("popped %d values, want %d", len(got), len(want))
	}
}

func TestPeekMatchesPop(t *testing.T) {
	q := queue.New(less)
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		q.Push(r.Intn(1000))
	}
	for q.Len() > 0 {
		p := q.Peek()
		v := q.Pop()
		if p != v {
			t.Fatalf("Peek() = %d, Pop() = %d", p, v)
		}
	}
}

func TestEmpty(t *testing.T) {
	q := queue.New(less)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}
