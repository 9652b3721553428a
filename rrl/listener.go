package rrl

import "time"

// Listener is the fixed Event Listener SPI (spec.md §4.3). Every method is
// invoked synchronously from the calling pipeline stage; implementations
// must not block indefinitely. A panic raised by a Listener method is
// recovered by the pipeline and reported through ErrorListenerException —
// it never reaches user code that called into the Service.
//
// This replaces the source's dynamic-proxy listener (spec.md §9) with an
// explicit interface plus, for tests, a RecordingListener.
type Listener[Input, Output any] interface {
	RequestAdded(entry *Entry[Input, Output])
	RequestExecuting(entry *Entry[Input, Output], attempt int, remainingValidity time.Duration)
	RequestSuccess(entry *Entry[Input, Output], result Output, attempt int, duration time.Duration)
	RequestAttemptFailed(entry *Entry[Input, Output], err error, attempt int, duration time.Duration)
	RequestAttemptFailedDecision(entry *Entry[Input, Output], decision AfterAttemptDecision)
	// RequestFinalFailure reports terminal failure. cause is nil when a
	// FinalFailure decision was reached without an attempt exception
	// (spec.md §9: treated as a normal outcome, not an assertion failure).
	RequestFinalFailure(entry *Entry[Input, Output], cause error)
	RequestFinalTimeout(entry *Entry[Input, Output], remainingValidity time.Duration)
	RequestRemoved(entry *Entry[Input, Output])

	MainQueueProcessingDecision(entry *Entry[Input, Output], decision MainQueueDecision, itemProcessingSince time.Time)
	MainQueueThreadObtained(entry *Entry[Input, Output], timeTaken time.Duration)
	MainQueueTicketObtainAttempt(entry *Entry[Input, Output], obtained bool, timeTaken time.Duration)
	MainQueueProcessingCompleted(entry *Entry[Input, Output], timeTaken time.Duration)

	DelayQueueItemBeforeDelayStep(entry *Entry[Input, Output], queueDelay, remainingDelay time.Duration)
	DelayQueueDecisionAfterDelayStep(entry *Entry[Input, Output], decision DelayQueueDecision, sleptFor, remainingDelay time.Duration)

	ErrorAssertion(entry *Entry[Input, Output], message string)
	ErrorSPIException(entry *Entry[Input, Output], err error)
	ErrorListenerException(entry *Entry[Input, Output], err error)
	ErrorUnexpectedInterrupt(err error, message string)
	ErrorUnexpectedRuntime(err error, message string)
}

// NopListener implements Listener with every method a no-op. Embed it to
// override only the callbacks you care about.
type NopListener[Input, Output any] struct{}

func (NopListener[Input, Output]) RequestAdded(*Entry[Input, Output]) {}
func (NopListener[Input, Output]) RequestExecuting(*Entry[Input, Output], int, time.Duration) {}
func (NopListener[Input, Output]) RequestSuccess(*Entry[Input, Output], Output, int, time.Duration) {
}
func (NopListener[Input, Output]) RequestAttemptFailed(*Entry[Input, Output], error, int, time.Duration) {
}
func (NopListener[Input, Output]) RequestAttemptFailedDecision(*Entry[Input, Output], AfterAttemptDecision) {
}
func (NopListener[Input, Output]) RequestFinalFailure(*Entry[Input, Output], error)          {}
func (NopListener[Input, Output]) RequestFinalTimeout(*Entry[Input, Output], time.Duration)   {}
func (NopListener[Input, Output]) RequestRemoved(*Entry[Input, Output])                       {}
func (NopListener[Input, Output]) MainQueueProcessingDecision(*Entry[Input, Output], MainQueueDecision, time.Time) {
}
func (NopListener[Input, Output]) MainQueueThreadObtained(*Entry[Input, Output], time.Duration) {}
func (NopListener[Input, Output]) MainQueueTicketObtainAttempt(*Entry[Input, Output], bool, time.Duration) {
}
func (NopListener[Input, Output]) MainQueueProcessingCompleted(*Entry[Input, Output], time.Duration) {
}
func (NopListener[Input, Output]) DelayQueueItemBeforeDelayStep(*Entry[Input, Output], time.Duration, time.Duration) {
}
func (NopListener[Input, Output]) DelayQueueDecisionAfterDelayStep(*Entry[Input, Output], DelayQueueDecision, time.Duration, time.Duration) {
}
func (NopListener[Input, Output]) ErrorAssertion(*Entry[Input, Output], string)     {}
func (NopListener[Input, Output]) ErrorSPIException(*Entry[Input, Output], error)   {}
func (NopListener[Input, Output]) ErrorListenerException(*Entry[Input, Output], error) {}
func (NopListener[Input, Output]) ErrorUnexpectedInterrupt(error, string)           {}
func (NopListener[Input, Output]) ErrorUnexpectedRuntime(error, string)             {}

// safeListener wraps a Listener so a panicking callback is recovered and
// reported through ErrorListenerException instead of propagating into the
// pipeline (spec.md §4.3's contract, §7's propagation policy).
type safeListener[Input, Output any] struct {
	inner Listener[Input, Output]
}

func newSafeListener[Input, Output any](l Listener[Input, Output]) *safeListener[Input, Output] {
	if l == nil {
		l = NopListener[Input, Output]{}
	}
	return &safeListener[Input, Output]{inner: l}
}

func (s *safeListener[Input, Output]) call(entry *Entry[Input, Output], fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := panicToError(r)
			// A panic escaping ErrorListenerException itself is deliberately
			// not recovered again. On the dispatcher and delay-queue drainer
			// goroutines rsupervisor recovers it and stops the service; on
			// attempt goroutines and submitter goroutines nothing recovers it.
			s.inner.ErrorListenerException(entry, err)
		}
	}()
	fn()
}

func (s *safeListener[Input, Output]) RequestAdded(e *Entry[Input, Output]) {
	s.call(e, func() { s.inner.RequestAdded(e) })
}
func (s *safeListener[Input, Output]) RequestExecuting(e *Entry[Input, Output], attempt int, remaining time.Duration) {
	s.call(e, func() { s.inner.RequestExecuting(e, attempt, remaining) })
}
func (s *safeListener[Input, Output]) RequestSuccess(e *Entry[Input, Output], result Output, attempt int, dur time.Duration) {
	s.call(e, func() { s.inner.RequestSuccess(e, result, attempt, dur) })
}
func (s *safeListener[Input, Output]) RequestAttemptFailed(e *Entry[Input, Output], err error, attempt int, dur time.Duration) {
	s.call(e, func() { s.inner.RequestAttemptFailed(e, err, attempt, dur) })
}
func (s *safeListener[Input, Output]) RequestAttemptFailedDecision(e *Entry[Input, Output], d AfterAttemptDecision) {
	s.call(e, func() { s.inner.RequestAttemptFailedDecision(e, d) })
}
func (s *safeListener[Input, Output]) RequestFinalFailure(e *Entry[Input, Output], cause error) {
	s.call(e, func() { s.inner.RequestFinalFailure(e, cause) })
}
func (s *safeListener[Input, Output]) RequestFinalTimeout(e *Entry[Input, Output], remaining time.Duration) {
	s.call(e, func() { s.inner.RequestFinalTimeout(e, remaining) })
}
func (s *safeListener[Input, Output]) RequestRemoved(e *Entry[Input, Output]) {
	s.call(e, func() { s.inner.RequestRemoved(e) })
}
func (s *safeListener[Input, Output]) MainQueueProcessingDecision(e *Entry[Input, Output], d MainQueueDecision, since time.Time) {
	s.call(e, func() { s.inner.MainQueueProcessingDecision(e, d, since) })
}
func (s *safeListener[Input, Output]) MainQueueThreadObtained(e *Entry[Input, Output], took time.Duration) {
	s.call(e, func() { s.inner.MainQueueThreadObtained(e, took) })
}
func (s *safeListener[Input, Output]) MainQueueTicketObtainAttempt(e *Entry[Input, Output], obtained bool, took time.Duration) {
	s.call(e, func() { s.inner.MainQueueTicketObtainAttempt(e, obtained, took) })
}
func (s *safeListener[Input, Output]) MainQueueProcessingCompleted(e *Entry[Input, Output], took time.Duration) {
	s.call(e, func() { s.inner.MainQueueProcessingCompleted(e, took) })
}
func (s *safeListener[Input, Output]) DelayQueueItemBeforeDelayStep(e *Entry[Input, Output], queueDelay, remaining time.Duration) {
	s.call(e, func() { s.inner.DelayQueueItemBeforeDelayStep(e, queueDelay, remaining) })
}
func (s *safeListener[Input, Output]) DelayQueueDecisionAfterDelayStep(e *Entry[Input, Output], d DelayQueueDecision, sleptFor, remaining time.Duration) {
	s.call(e, func() { s.inner.DelayQueueDecisionAfterDelayStep(e, d, sleptFor, remaining) })
}
func (s *safeListener[Input, Output]) ErrorAssertion(e *Entry[Input, Output], message string) {
	s.call(e, func() { s.inner.ErrorAssertion(e, message) })
}
func (s *safeListener[Input, Output]) ErrorSPIException(e *Entry[Input, Output], err error) {
	s.call(e, func() { s.inner.ErrorSPIException(e, err) })
}
func (s *safeListener[Input, Output]) ErrorUnexpectedInterrupt(err error, message string) {
	s.call(nil, func() { s.inner.ErrorUnexpectedInterrupt(err, message) })
}
func (s *safeListener[Input, Output]) ErrorUnexpectedRuntime(err error, message string) {
	s.call(nil, func() { s.inner.ErrorUnexpectedRuntime(err, message) })
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &recoveredPanic{value: r}
}

type recoveredPanic struct{ value any }

func (p *recoveredPanic) Error() string { return "panic recovered: " + toString(p.value) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-string panic value"
}
