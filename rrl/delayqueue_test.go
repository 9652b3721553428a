package rrl

import (
	"container/heap"
	"testing"
	"time"
)

func TestDelayHeapOrdersByNotBefore(t *testing.T) {
	t.Parallel()
	now := time.Now()
	h := &delayHeap[string, string]{}
	heap.Init(h)

	e1 := newEntry[string, string]("a", now, now.Add(time.Hour), now.Add(30*time.Millisecond))
	e2 := newEntry[string, string]("b", now, now.Add(time.Hour), now.Add(10*time.Millisecond))
	e3 := newEntry[string, string]("c", now, now.Add(time.Hour), now.Add(20*time.Millisecond))

	heap.Push(h, &delayItem[string, string]{entry: e1, notBefore: e1.NotBefore()})
	heap.Push(h, &delayItem[string, string]{entry: e2, notBefore: e2.NotBefore()})
	heap.Push(h, &delayItem[string, string]{entry: e3, notBefore: e3.NotBefore()})

	var order []string
	for h.Len() > 0 {
		item := heap.Pop(h).(*delayItem[string, string])
		order = append(order, item.entry.Task())
	}

	want := []string{"b", "c", "a"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestDelayQueueIndexIsStableAndInRange(t *testing.T) {
	t.Parallel()
	const n = 4
	id := "stable-id"
	first := delayQueueIndex(id, n)
	for i := 0; i < 10; i++ {
		if got := delayQueueIndex(id, n); got != first {
			t.Fatalf("delayQueueIndex not stable: got %d, want %d", got, first)
		}
	}
	if first < 0 || first >= n {
		t.Fatalf("index %d out of range [0,%d)", first, n)
	}
}

func TestDelayQueueIndexSingleQueue(t *testing.T) {
	t.Parallel()
	if got := delayQueueIndex("anything", 1); got != 0 {
		t.Fatalf("delayQueueIndex with n=1 = %d, want 0", got)
	}
}
