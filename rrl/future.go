package rrl

import (
	"context"
	"time"
)

// RequestCancellation sets the cancellation flag on the entry backing this
// future. Cancellation is cooperative (spec.md §5, §9): it takes effect at
// the pipeline's next decision point rather than pre-empting a running
// attempt. Returns true iff this call effected the transition.
func (e *Entry[Input, Output]) RequestCancellation() bool {
	return e.requestCancellationInternal()
}

// IsDone reports whether the entry has reached a terminal state.
func (e *Entry[Input, Output]) IsDone() bool { return e.State().IsTerminal() }

// IsSuccessful reports whether the entry completed in the Succeeded state.
func (e *Entry[Input, Output]) IsSuccessful() bool { return e.State() == Succeeded }

// IsCancelled reports whether the entry completed in the Cancelled state.
func (e *Entry[Input, Output]) IsCancelled() bool { return e.State() == Cancelled }

// Get blocks until the entry completes or timeout elapses (timeout <= 0
// waits indefinitely), then returns the outcome per spec.md §4.2:
//   - the success value, if the request Succeeded
//   - *RequestTimedOutError if the request itself hit validUntil
//   - *AttemptFailedError wrapping the last cause, if FailedTerminal
//   - *CancelledError if Cancelled
//   - *WaitTimeoutError if the caller's own wait elapsed first
func (e *Entry[Input, Output]) Get(timeout time.Duration) (Output, error) {
	if timeout <= 0 {
		return e.GetContext(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.GetContext(ctx)
}

// GetContext is Get with an explicit context. Context cancellation (not
// deadline) is reported as *InterruptedError, distinguishing "the waiter
// was asked to abort" from "the caller's wait elapsed".
func (e *Entry[Input, Output]) GetContext(ctx context.Context) (Output, error) {
	select {
	case <-e.done:
		return e.outcome()
	case <-ctx.Done():
		var zero Output
		if ctx.Err() == context.DeadlineExceeded {
			return zero, &WaitTimeoutError{}
		}
		return zero, &InterruptedError{}
	}
}

// GetOrNull is Get but returns ok=false instead of *WaitTimeoutError when
// the caller's own wait elapses; other terminal outcomes are unchanged.
func (e *Entry[Input, Output]) GetOrNull(timeout time.Duration) (result Output, err error, ok bool) {
	result, err = e.Get(timeout)
	if _, isWaitTimeout := err.(*WaitTimeoutError); isWaitTimeout {
		var zero Output
		return zero, nil, false
	}
	return result, err, true
}

func (e *Entry[Input, Output]) outcome() (Output, error) {
	result, lastErr, state := e.snapshotResult()
	switch state {
	case Succeeded:
		return result, nil
	case TimedOut:
		var zero Output
		remaining := int64(0)
		if lastErr != nil {
			if rt, ok := lastErr.(*RequestTimedOutError); ok {
				return zero, rt
			}
		}
		return zero, &RequestTimedOutError{RemainingValidity: remaining}
	case Cancelled:
		var zero Output
		return zero, &CancelledError{}
	case FailedTerminal:
		var zero Output
		return zero, &AttemptFailedError{Cause: lastErr, Attempts: e.AttemptNumber()}
	default:
		// Unreachable: outcome is only read after e.done closes, which only
		// happens on transition into a terminal state.
		var zero Output
		return zero, &AttemptFailedError{Cause: lastErr, Attempts: e.AttemptNumber()}
	}
}
