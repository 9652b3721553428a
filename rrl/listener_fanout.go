package rrl

import "time"

// fanoutListener dispatches every callback to an internal listener (service
// bookkeeping/metrics) before forwarding to the caller-supplied listener.
// The service wraps the whole fanout in one safeListener, so a panic from
// either listener is recovered there; the internal listener only touches
// atomics/Prometheus instruments.
type fanoutListener[Input, Output any] struct {
	internal Listener[Input, Output]
	user     Listener[Input, Output]
}

func newFanoutListener[Input, Output any](internal, user Listener[Input, Output]) *fanoutListener[Input, Output] {
	if user == nil {
		user = NopListener[Input, Output]{}
	}
	return &fanoutListener[Input, Output]{internal: internal, user: user}
}

func (f *fanoutListener[Input, Output]) RequestAdded(e *Entry[Input, Output]) {
	f.internal.RequestAdded(e)
	f.user.RequestAdded(e)
}
func (f *fanoutListener[Input, Output]) RequestExecuting(e *Entry[Input, Output], attempt int, remaining time.Duration) {
	f.internal.RequestExecuting(e, attempt, remaining)
	f.user.RequestExecuting(e, attempt, remaining)
}
func (f *fanoutListener[Input, Output]) RequestSuccess(e *Entry[Input, Output], result Output, attempt int, dur time.Duration) {
	f.internal.RequestSuccess(e, result, attempt, dur)
	f.user.RequestSuccess(e, result, attempt, dur)
}
func (f *fanoutListener[Input, Output]) RequestAttemptFailed(e *Entry[Input, Output], err error, attempt int, dur time.Duration) {
	f.internal.RequestAttemptFailed(e, err, attempt, dur)
	f.user.RequestAttemptFailed(e, err, attempt, dur)
}
func (f *fanoutListener[Input, Output]) RequestAttemptFailedDecision(e *Entry[Input, Output], d AfterAttemptDecision) {
	f.internal.RequestAttemptFailedDecision(e, d)
	f.user.RequestAttemptFailedDecision(e, d)
}
func (f *fanoutListener[Input, Output]) RequestFinalFailure(e *Entry[Input, Output], cause error) {
	f.internal.RequestFinalFailure(e, cause)
	f.user.RequestFinalFailure(e, cause)
}
func (f *fanoutListener[Input, Output]) RequestFinalTimeout(e *Entry[Input, Output], remaining time.Duration) {
	f.internal.RequestFinalTimeout(e, remaining)
	f.user.RequestFinalTimeout(e, remaining)
}
func (f *fanoutListener[Input, Output]) RequestRemoved(e *Entry[Input, Output]) {
	f.internal.RequestRemoved(e)
	f.user.RequestRemoved(e)
}
func (f *fanoutListener[Input, Output]) MainQueueProcessingDecision(e *Entry[Input, Output], d MainQueueDecision, since time.Time) {
	f.internal.MainQueueProcessingDecision(e, d, since)
	f.user.MainQueueProcessingDecision(e, d, since)
}
func (f *fanoutListener[Input, Output]) MainQueueThreadObtained(e *Entry[Input, Output], took time.Duration) {
	f.internal.MainQueueThreadObtained(e, took)
	f.user.MainQueueThreadObtained(e, took)
}
func (f *fanoutListener[Input, Output]) MainQueueTicketObtainAttempt(e *Entry[Input, Output], obtained bool, took time.Duration) {
	f.internal.MainQueueTicketObtainAttempt(e, obtained, took)
	f.user.MainQueueTicketObtainAttempt(e, obtained, took)
}
func (f *fanoutListener[Input, Output]) MainQueueProcessingCompleted(e *Entry[Input, Output], took time.Duration) {
	f.internal.MainQueueProcessingCompleted(e, took)
	f.user.MainQueueProcessingCompleted(e, took)
}
func (f *fanoutListener[Input, Output]) DelayQueueItemBeforeDelayStep(e *Entry[Input, Output], queueDelay, remaining time.Duration) {
	f.internal.DelayQueueItemBeforeDelayStep(e, queueDelay, remaining)
	f.user.DelayQueueItemBeforeDelayStep(e, queueDelay, remaining)
}
func (f *fanoutListener[Input, Output]) DelayQueueDecisionAfterDelayStep(e *Entry[Input, Output], d DelayQueueDecision, sleptFor, remaining time.Duration) {
	f.internal.DelayQueueDecisionAfterDelayStep(e, d, sleptFor, remaining)
	f.user.DelayQueueDecisionAfterDelayStep(e, d, sleptFor, remaining)
}
func (f *fanoutListener[Input, Output]) ErrorAssertion(e *Entry[Input, Output], message string) {
	f.internal.ErrorAssertion(e, message)
	f.user.ErrorAssertion(e, message)
}
func (f *fanoutListener[Input, Output]) ErrorSPIException(e *Entry[Input, Output], err error) {
	f.internal.ErrorSPIException(e, err)
	f.user.ErrorSPIException(e, err)
}
func (f *fanoutListener[Input, Output]) ErrorListenerException(e *Entry[Input, Output], err error) {
	f.internal.ErrorListenerException(e, err)
	f.user.ErrorListenerException(e, err)
}
func (f *fanoutListener[Input, Output]) ErrorUnexpectedInterrupt(err error, message string) {
	f.internal.ErrorUnexpectedInterrupt(err, message)
	f.user.ErrorUnexpectedInterrupt(err, message)
}
func (f *fanoutListener[Input, Output]) ErrorUnexpectedRuntime(err error, message string) {
	f.internal.ErrorUnexpectedRuntime(err, message)
	f.user.ErrorUnexpectedRuntime(err, message)
}
