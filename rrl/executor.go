package rrl

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// executorPool is the bounded worker pool gating how many attempts may run
// concurrently (spec.md §4.7). It is a thin wrapper over
// golang.org/x/sync/semaphore.Weighted rather than a hand-rolled
// goroutine/channel pool, following the concurrency-limiting style the
// pack's raft-recovery example uses the same package for. inUse tracks
// occupied slots directly since semaphore.Weighted does not expose one.
type executorPool struct {
	sem   *semaphore.Weighted
	n     int64
	inUse int64
}

func newExecutorPool(size int) *executorPool {
	if size <= 0 {
		size = 1
	}
	return &executorPool{sem: semaphore.NewWeighted(int64(size)), n: int64(size)}
}

// tryAcquire is the non-blocking acquire: it returns immediately whether or
// not a slot was free. The dispatcher itself uses the blocking acquire.
func (p *executorPool) tryAcquire() bool {
	if p.sem.TryAcquire(1) {
		atomic.AddInt64(&p.inUse, 1)
		return true
	}
	return false
}

// acquire blocks until a slot frees or ctx is done.
func (p *executorPool) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&p.inUse, 1)
	return nil
}

func (p *executorPool) release() {
	atomic.AddInt64(&p.inUse, -1)
	p.sem.Release(1)
}

// size reports the configured worker-pool width.
func (p *executorPool) size() int {
	return int(p.n)
}

// used reports the number of slots currently occupied.
func (p *executorPool) used() int {
	return int(atomic.LoadInt64(&p.inUse))
}
