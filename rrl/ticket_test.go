package rrl

import (
	"context"
	"testing"
	"time"
)

func TestTicketBucketTryAcquireRespectsBurst(t *testing.T) {
	t.Parallel()
	b := newTicketBucket(Rate{N: 100, Interval: time.Second}, 2)

	if !b.tryAcquire() {
		t.Fatal("first tryAcquire should succeed")
	}
	if !b.tryAcquire() {
		t.Fatal("second tryAcquire should succeed (burst=2)")
	}
	if b.tryAcquire() {
		t.Fatal("third tryAcquire should fail: burst exhausted")
	}
}

func TestTicketBucketAcquireNonBlockingWhenMaxWaitZero(t *testing.T) {
	t.Parallel()
	b := newTicketBucket(Rate{N: 1, Interval: time.Second}, 1)
	b.tryAcquire() // drain the only token

	outcome := b.acquire(context.Background(), 0, nil)
	if outcome != WouldBlock {
		t.Fatalf("outcome = %v, want WouldBlock", outcome)
	}
}

func TestTicketBucketAcquireWaitsForReplenish(t *testing.T) {
	t.Parallel()
	b := newTicketBucket(Rate{N: 20, Interval: time.Second}, 1)
	b.tryAcquire() // drain the only token

	outcome := b.acquire(context.Background(), time.Second, nil)
	if outcome != Acquired {
		t.Fatalf("outcome = %v, want Acquired", outcome)
	}
}

func TestTicketBucketAcquireCancelled(t *testing.T) {
	t.Parallel()
	b := newTicketBucket(Rate{N: 1, Interval: time.Minute}, 1)
	b.tryAcquire()

	cancelled := false
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancelled = true
	}()
	outcome := b.acquire(context.Background(), time.Second, func() bool { return cancelled })
	if outcome != TicketCancelled {
		t.Fatalf("outcome = %v, want TicketCancelled", outcome)
	}
}
