package rrl

import (
	"container/heap"
	"context"
	"hash/fnv"
	"sync"
	"time"

	"rrl/clock"
)

// delayItem is one heap element: an entry parked until notBefore.
type delayItem[Input, Output any] struct {
	entry     *Entry[Input, Output]
	notBefore time.Time
	index     int
}

// delayHeap is a container/heap min-heap ordered by notBefore (spec.md §4.5).
type delayHeap[Input, Output any] []*delayItem[Input, Output]

func (h delayHeap[Input, Output]) Len() int { return len(h) }
func (h delayHeap[Input, Output]) Less(i, j int) bool {
	return h[i].notBefore.Before(h[j].notBefore)
}
func (h delayHeap[Input, Output]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *delayHeap[Input, Output]) Push(x any) {
	item := x.(*delayItem[Input, Output])
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *delayHeap[Input, Output]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// delayQueue owns one heap and a single drainer goroutine. Entries hash to
// one of the service's D delay queues by entry ID (spec.md §4.5); each
// queue is single-writer from its own drainer's point of view, with the
// heap itself guarded by a mutex because Add is called from the main
// dispatcher goroutine concurrently with the drainer's own pops. Its run
// goroutine is launched and supervised by rsupervisor (see Service.Start).
type delayQueue[Input, Output any] struct {
	clk      clock.Clock
	decider  DelayQueueDecider[Input, Output]
	listener *safeListener[Input, Output]
	onReady  func(*Entry[Input, Output]) // hands a promoted entry back to the main queue
	grace    time.Duration

	mu     sync.Mutex
	h      delayHeap[Input, Output]
	wakeup chan struct{}
}

func newDelayQueue[Input, Output any](
	clk clock.Clock,
	decider DelayQueueDecider[Input, Output],
	listener *safeListener[Input, Output],
	grace time.Duration,
	onReady func(*Entry[Input, Output]),
) *delayQueue[Input, Output] {
	return &delayQueue[Input, Output]{
		clk:      clk,
		decider:  decider,
		listener: listener,
		onReady:  onReady,
		grace:    grace,
		wakeup:   make(chan struct{}, 1),
	}
}

// add parks entry until notBefore. If the insertion becomes the new
// earliest-due item, it nudges the drainer awake so a shorter sleep isn't
// missed.
func (q *delayQueue[Input, Output]) add(entry *Entry[Input, Output], notBefore time.Time) {
	q.mu.Lock()
	item := &delayItem[Input, Output]{entry: entry, notBefore: notBefore}
	heap.Push(&q.h, item)
	isEarliest := q.h[0] == item
	q.mu.Unlock()

	if isEarliest {
		q.nudge()
	}
}

func (q *delayQueue[Input, Output]) nudge() {
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// run is the drainer loop: one goroutine per delay queue, consulting the
// DelayQueueDecider before and potentially many times during a sleep so
// cancellation, shutdown, or deadline drift is observed promptly rather
// than only after a long uninterruptible sleep (spec.md §4.5). It is called
// by rsupervisor.Supervisor.Go, which supplies ctx and treats a non-nil,
// non-context.Canceled return as fatal to the service.
func (q *delayQueue[Input, Output]) run(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.h) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wakeup:
				continue
			case <-ctx.Done():
				return nil
			}
		}
		item := q.h[0]
		q.mu.Unlock()

		now := q.clk.Now()
		remaining := q.clk.VirtualGap(now, item.notBefore)
		queueDelay := q.clk.VirtualGap(item.entry.CreatedAt(), now)
		q.listener.DelayQueueItemBeforeDelayStep(item.entry, queueDelay, remaining)

		decision := q.decider.Decide(item.entry, remaining, now)

		switch decision.Kind {
		case Promote:
			q.popFront()
			q.listener.DelayQueueDecisionAfterDelayStep(item.entry, decision, 0, 0)
			q.onReady(item.entry)
			continue
		case Drop:
			q.popFront()
			q.listener.DelayQueueDecisionAfterDelayStep(item.entry, decision, 0, remaining)
			q.finishDropped(item.entry, now)
			continue
		case SleepFully:
			q.sleepOrWake(ctx, remaining)
			q.listener.DelayQueueDecisionAfterDelayStep(item.entry, decision, remaining, 0)
			// Re-consult the decider whether the sleep completed naturally
			// or was interrupted by a nudge/shutdown: cancellation while
			// parked here does not itself wake the drainer, so promoting
			// unconditionally on natural completion would attempt an
			// entry that should have been dropped.
			continue
		case SleepStep:
			step := decision.Delay
			if step <= 0 || step > remaining {
				step = remaining
			}
			woken := q.sleepOrWake(ctx, step)
			q.listener.DelayQueueDecisionAfterDelayStep(item.entry, decision, step, remaining-step)
			if !woken {
				continue
			}
			continue
		}
	}
}

// sleepOrWake blocks for d virtual-time duration (translated to a real
// sleep via the clock's AddVirtualInterval) or until ctx is done or the
// queue is nudged by an earlier insertion. Returns true if the sleep was
// interrupted before it elapsed.
func (q *delayQueue[Input, Output]) sleepOrWake(ctx context.Context, d time.Duration) (interrupted bool) {
	if d < 0 {
		d = 0
	}
	now := q.clk.Now()
	real := q.clk.AddVirtualInterval(now, d).Sub(now)
	timer := time.NewTimer(real)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-q.wakeup:
		return true
	case <-ctx.Done():
		return true
	}
}

func (q *delayQueue[Input, Output]) popFront() {
	q.mu.Lock()
	if len(q.h) > 0 {
		heap.Pop(&q.h)
	}
	q.mu.Unlock()
}

func (q *delayQueue[Input, Output]) finishDropped(entry *Entry[Input, Output], now time.Time) {
	if entry.CancellationRequested() {
		if entry.finish(Cancelled, zeroValue[Output](), nil) {
			q.listener.RequestRemoved(entry)
		}
		return
	}
	remaining := entry.RemainingValidity(q.clk, now)
	if entry.finish(TimedOut, zeroValue[Output](), &RequestTimedOutError{RemainingValidity: remaining.Milliseconds()}) {
		q.listener.RequestFinalTimeout(entry, remaining)
		q.listener.RequestRemoved(entry)
	}
}

// len reports the current queue depth, used by GetStatus's pending count.
func (q *delayQueue[Input, Output]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

func zeroValue[T any]() T {
	var z T
	return z
}

// delayQueueIndex hashes an entry ID to one of n delay queues (spec.md
// §4.5's "a fixed hash of the entry's ID" routing).
func delayQueueIndex(id string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}
