package rrl

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TicketOutcome is the result of a ticket-bucket acquisition attempt.
type TicketOutcome int

const (
	Acquired TicketOutcome = iota
	WouldBlock
	TicketCancelled
	TicketInterrupted
)

// ticketBucket wraps golang.org/x/time/rate.Limiter (the same package the
// teacher uses to throttle its own Telegram send rate) to implement
// spec.md §4.6's Ticket Bucket: a non-blocking try, and a blocking wait
// bounded by a max wait and a cooperative cancellation check.
type ticketBucket struct {
	limiter *rate.Limiter
}

func newTicketBucket(r Rate, burst int) *ticketBucket {
	if burst <= 0 {
		burst = r.N
	}
	if burst <= 0 {
		burst = 1
	}
	return &ticketBucket{limiter: rate.NewLimiter(rate.Limit(r.PerSecond()), burst)}
}

// tryAcquire takes a ticket only if one is available now: it never waits.
// The dispatcher itself uses acquire.
func (t *ticketBucket) tryAcquire() bool {
	return t.limiter.Allow()
}

// acquire blocks up to maxWait for a ticket, polling cancelled between
// short slices so a cooperative cancellation request or ctx cancellation
// is observed promptly instead of only after the full reservation delay.
func (t *ticketBucket) acquire(ctx context.Context, maxWait time.Duration, cancelled func() bool) TicketOutcome {
	if t.limiter.Allow() {
		return Acquired
	}
	if maxWait <= 0 {
		return WouldBlock
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if maxWait > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	const pollInterval = 20 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	reservation := t.limiter.Reserve()
	if !reservation.OK() {
		return WouldBlock
	}
	delay := reservation.Delay()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return Acquired
		case <-ticker.C:
			if cancelled != nil && cancelled() {
				reservation.Cancel()
				return TicketCancelled
			}
		case <-waitCtx.Done():
			reservation.Cancel()
			if ctx.Err() != nil {
				return TicketInterrupted
			}
			return WouldBlock
		}
	}
}
