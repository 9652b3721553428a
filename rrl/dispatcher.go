package rrl

import (
	"context"
	"time"

	"rrl/clock"
)

// AttemptFunc is the user-supplied function invoked once per attempt
// (spec.md §4.7). Returning an error is equivalent to the source's thrown
// exception; a panic inside it is recovered and treated the same way.
type AttemptFunc[Input, Output any] func(ctx context.Context, input Input, attemptNumber int) (Output, error)

type attemptResult[Input, Output any] struct {
	entry    *Entry[Input, Output]
	output   Output
	err      error
	duration time.Duration
	attempt  int
}

// dispatcher is the single main-queue consumer described in spec.md §4.8. It
// owns the FIFO, acquires worker slots and tickets on the entry's behalf,
// and interprets every attempt outcome via the after-attempt decision SPI.
// Its goroutine is launched and supervised by rsupervisor (see Service.Start),
// which is why run takes the supervisor-owned ctx rather than managing its
// own stop channel and WaitGroup.
type dispatcher[Input, Output any] struct {
	clk          clock.Clock
	cfg          Config
	attemptFn    AttemptFunc[Input, Output]
	mainDecider  MainQueueDecider[Input, Output]
	afterDecider AfterAttemptDecider[Input, Output]
	listener     *safeListener[Input, Output]
	executor     *executorPool
	ticket       *ticketBucket
	delayQueues  []*delayQueue[Input, Output]
	grace        time.Duration

	mainQ    chan *Entry[Input, Output]
	resultCh chan attemptResult[Input, Output]

	// ctx is the supervisor's context: it is cancelled the moment the
	// supervisor tears down (panic, fatal error, or Service.Shutdown), and
	// every blocking wait in this file selects on it instead of a private
	// stop channel.
	ctx context.Context
}

// run is the supervised goroutine body: rsupervisor.Supervisor.Go calls it
// with its own context and treats a non-nil, non-context.Canceled return as
// a fatal error for the whole service.
func (d *dispatcher[Input, Output]) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry := <-d.mainQ:
			d.processEntry(entry)
		case res := <-d.resultCh:
			d.handleResult(res)
		}
	}
}

// watchCancellation derives a context that is cancelled as soon as the
// entry's cancellation flag is set or the dispatcher's supervised context is
// done, giving blocking slot/ticket acquisitions a cancellation signal
// without relying on thread-interrupt semantics (spec.md §9).
func (d *dispatcher[Input, Output]) watchCancellation(entry *Entry[Input, Output]) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(d.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if entry.CancellationRequested() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, func() { cancel(); <-done }
}

// processEntry implements spec.md §4.8 steps 1-4: consult, acquire slot,
// consult, acquire ticket, consult, submit. It runs entirely on the
// dispatcher goroutine and blocks on slot/ticket acquisition by design —
// that is what gives the main queue its strict FIFO ordering guarantee.
func (d *dispatcher[Input, Output]) processEntry(entry *Entry[Input, Output]) {
	now := d.clk.Now()
	decision := d.mainDecider.Decide(entry, false, false, now)
	d.listener.MainQueueProcessingDecision(entry, decision, now)
	if !d.actOnMainDecision(entry, decision, now) {
		return
	}

	watchCtx, cancel := d.watchCancellation(entry)
	defer cancel()

	slotStart := d.clk.Now()
	if err := d.executor.acquire(watchCtx); err != nil {
		d.finishCancelledOrStopped(entry)
		return
	}
	d.listener.MainQueueThreadObtained(entry, d.clk.Now().Sub(slotStart))

	now = d.clk.Now()
	decision = d.mainDecider.Decide(entry, true, false, now)
	d.listener.MainQueueProcessingDecision(entry, decision, now)
	if !d.actOnMainDecision(entry, decision, now) {
		d.executor.release()
		return
	}

	ticketStart := d.clk.Now()
	outcome := d.ticket.acquire(watchCtx, d.cfg.MaxSleepStep.Duration(), entry.CancellationRequested)
	obtained := outcome == Acquired
	d.listener.MainQueueTicketObtainAttempt(entry, obtained, d.clk.Now().Sub(ticketStart))
	if !obtained {
		d.executor.release()
		switch outcome {
		case TicketCancelled, TicketInterrupted:
			d.finishCancelledOrStopped(entry)
		default: // WouldBlock: requeue just past the grace period via the retry-delay path
			d.requeueAfter(entry, d.cfg.RequestEarlyProcessingGracePeriod.Duration()+5*time.Millisecond)
		}
		return
	}

	now = d.clk.Now()
	decision = d.mainDecider.Decide(entry, true, true, now)
	d.listener.MainQueueProcessingDecision(entry, decision, now)
	if !d.actOnMainDecision(entry, decision, now) {
		d.executor.release()
		return
	}

	d.runAttempt(entry)
}

// actOnMainDecision handles every MainQueueDecision outcome except
// ProcessNow, which it reports by returning true so the caller continues
// the current step.
func (d *dispatcher[Input, Output]) actOnMainDecision(entry *Entry[Input, Output], decision MainQueueDecision, now time.Time) bool {
	switch decision.Kind {
	case ProcessNow:
		return true
	case DelayFor:
		d.requeueAfter(entry, decision.Delay)
		return false
	case MainQueueFinalTimeout:
		d.finishTimeout(entry, now)
		return false
	case MainQueueFinalFailure:
		cause := entry.LastError()
		if entry.finish(FailedTerminal, zeroValue[Output](), cause) {
			d.listener.RequestFinalFailure(entry, cause)
			d.listener.RequestRemoved(entry)
		}
		return false
	default:
		return false
	}
}

// runAttempt hands the entry to a fresh goroutine under the already-held
// worker slot; the dispatcher itself never blocks on the attempt (spec.md
// §4.8: "the dispatcher does not block on the attempt itself").
func (d *dispatcher[Input, Output]) runAttempt(entry *Entry[Input, Output]) {
	attempt := entry.incrementAttempt()
	remaining := entry.RemainingValidity(d.clk, d.clk.Now())
	d.listener.RequestExecuting(entry, attempt, remaining)

	go func() {
		start := d.clk.Now()
		output, err := d.invokeAttempt(entry, attempt)
		dur := d.clk.Now().Sub(start)
		d.executor.release()
		d.listener.MainQueueProcessingCompleted(entry, dur)

		res := attemptResult[Input, Output]{entry: entry, output: output, err: err, duration: dur, attempt: attempt}
		select {
		case d.resultCh <- res:
		case <-d.ctx.Done():
		}
	}()
}

func (d *dispatcher[Input, Output]) invokeAttempt(entry *Entry[Input, Output], attempt int) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToError(r)
		}
	}()
	return d.attemptFn(context.Background(), entry.Task(), attempt)
}

func (d *dispatcher[Input, Output]) handleResult(res attemptResult[Input, Output]) {
	entry := res.entry
	if res.err == nil {
		d.listener.RequestSuccess(entry, res.output, res.attempt, res.duration)
		if entry.finish(Succeeded, res.output, nil) {
			d.listener.RequestRemoved(entry)
		}
		return
	}

	d.listener.RequestAttemptFailed(entry, res.err, res.attempt, res.duration)
	entry.setLastError(res.err)

	now := d.clk.Now()
	decision := d.afterDecider.Decide(entry, res.err, now)
	d.listener.RequestAttemptFailedDecision(entry, decision)

	switch decision.Kind {
	case Retry:
		d.requeueAfter(entry, decision.Delay)
	case AfterAttemptFinalFailure:
		if entry.finish(FailedTerminal, zeroValue[Output](), res.err) {
			d.listener.RequestFinalFailure(entry, res.err)
			d.listener.RequestRemoved(entry)
		}
	case AfterAttemptFinalTimeout:
		d.finishTimeout(entry, now)
	}
}

// requeueAfter moves notBefore forward by delay and routes the entry to
// the main queue directly (if within grace) or to its delay queue.
func (d *dispatcher[Input, Output]) requeueAfter(entry *Entry[Input, Output], delay time.Duration) {
	now := d.clk.Now()
	if timedOut := entry.setNotBefore(now.Add(delay)); timedOut {
		d.finishTimeout(entry, now)
		return
	}
	if delay <= d.grace {
		d.enqueueMain(entry)
		return
	}
	d.routeToDelayQueue(entry, entry.NotBefore())
}

func (d *dispatcher[Input, Output]) enqueueMain(entry *Entry[Input, Output]) {
	select {
	case d.mainQ <- entry:
	case <-d.ctx.Done():
	}
}

func (d *dispatcher[Input, Output]) routeToDelayQueue(entry *Entry[Input, Output], notBefore time.Time) {
	idx := delayQueueIndex(entry.ID(), len(d.delayQueues))
	d.delayQueues[idx].add(entry, notBefore)
}

func (d *dispatcher[Input, Output]) finishTimeout(entry *Entry[Input, Output], now time.Time) {
	remaining := entry.RemainingValidity(d.clk, now)
	if entry.finish(TimedOut, zeroValue[Output](), &RequestTimedOutError{RemainingValidity: remaining.Milliseconds()}) {
		d.listener.RequestFinalTimeout(entry, remaining)
		d.listener.RequestRemoved(entry)
	}
}

// finishCancelledOrStopped terminates an entry that was waiting on a
// blocking acquire when either its own cancellation flag was set or the
// service began shutting down — both surface as Cancelled (spec.md §5:
// "shutdown cancels all waits promptly and terminates all non-completed
// entries as Cancelled").
func (d *dispatcher[Input, Output]) finishCancelledOrStopped(entry *Entry[Input, Output]) {
	if entry.finish(Cancelled, zeroValue[Output](), nil) {
		d.listener.RequestRemoved(entry)
	}
}
