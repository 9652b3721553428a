package rrl

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"rrl/clock"
)

// CompletionState is one of the states in Entry's transition DAG (spec.md
// §3). Terminal states never transition to another terminal state.
type CompletionState int32

const (
	Pending CompletionState = iota
	Running
	Succeeded
	FailedTerminal
	TimedOut
	Cancelled
)

func (s CompletionState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Succeeded:
		return "Succeeded"
	case FailedTerminal:
		return "FailedTerminal"
	case TimedOut:
		return "TimedOut"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is one of the DAG's terminal states.
func (s CompletionState) IsTerminal() bool {
	switch s {
	case Succeeded, FailedTerminal, TimedOut, Cancelled:
		return true
	default:
		return false
	}
}

// Entry is the canonical per-request record (spec.md §3). It is
// simultaneously the value seen by the Decision SPI and Event Listener SPI,
// and — via its exported Future-facing methods — the handle a submitter
// holds. Entry is mutated only by its current owning stage (single-writer
// discipline, spec.md §5); the terminal-state transition is the one
// exception, serialised through the entry's own mutex as a compare-and-set.
type Entry[Input, Output any] struct {
	id         string
	input      Input
	createdAt  time.Time
	validUntil time.Time

	mu                    sync.Mutex
	notBefore             time.Time
	attemptNumber         int
	lastError             error
	cancellationRequested bool
	state                 CompletionState
	result                Output

	done     chan struct{}
	doneOnce sync.Once
}

func newEntry[Input, Output any](input Input, createdAt, validUntil, notBefore time.Time) *Entry[Input, Output] {
	if notBefore.Before(createdAt) {
		notBefore = createdAt
	}
	if notBefore.After(validUntil) {
		notBefore = validUntil
	}
	return &Entry[Input, Output]{
		id:         uuid.NewString(),
		input:      input,
		createdAt:  createdAt,
		validUntil: validUntil,
		notBefore:  notBefore,
		state:      Pending,
		done:       make(chan struct{}),
	}
}

// ---- Read accessors used by the Decision SPI, Event Listener SPI, and the pipeline ----

func (e *Entry[Input, Output]) ID() string           { return e.id }
func (e *Entry[Input, Output]) CreatedAt() time.Time { return e.createdAt }

// Task returns the original submitted payload. This is the same value
// exposed to the submitter as the future's Task() and to the pipeline as
// the entry's input.
func (e *Entry[Input, Output]) Task() Input { return e.input }

func (e *Entry[Input, Output]) ValidUntil() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validUntil
}

func (e *Entry[Input, Output]) NotBefore() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notBefore
}

func (e *Entry[Input, Output]) AttemptNumber() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attemptNumber
}

func (e *Entry[Input, Output]) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

func (e *Entry[Input, Output]) CancellationRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancellationRequested
}

func (e *Entry[Input, Output]) State() CompletionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RemainingValidity returns validUntil-now using clk's virtual-time gap, so
// tests running under a scaled clock see the same remaining-validity math
// the dispatcher does.
func (e *Entry[Input, Output]) RemainingValidity(clk clock.Clock, now time.Time) time.Duration {
	e.mu.Lock()
	vu := e.validUntil
	e.mu.Unlock()
	if now.After(vu) {
		return -clk.VirtualGap(vu, now)
	}
	return clk.VirtualGap(now, vu)
}

// ---- Mutations performed by the single owning stage ----

// setNotBefore moves the earliest-retry instant forward. If t is past
// validUntil, notBefore is left unchanged and timedOut is true; the caller
// then moves the entry to TimedOut through finish, which signals the future.
func (e *Entry[Input, Output]) setNotBefore(t time.Time) (timedOut bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.After(e.validUntil) {
		return true
	}
	e.notBefore = t
	return false
}

func (e *Entry[Input, Output]) incrementAttempt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attemptNumber++
	e.state = Running
	return e.attemptNumber
}

func (e *Entry[Input, Output]) setLastError(err error) {
	e.mu.Lock()
	e.lastError = err
	e.mu.Unlock()
}

// requestCancellationInternal sets the cancellation flag. It returns true
// iff this call effected the transition (idempotent false thereafter or
// once the entry reached a terminal state), matching Future's
// RequestCancellation contract in spec.md §4.2.
func (e *Entry[Input, Output]) requestCancellationInternal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsTerminal() || e.cancellationRequested {
		return false
	}
	e.cancellationRequested = true
	return true
}

// finish performs the single compare-and-set into a terminal state. It
// returns false if the entry was already terminal (a no-op, guarding
// against double-completion). result is recorded only when state is
// Succeeded, and the future's completion signal is closed exactly once.
func (e *Entry[Input, Output]) finish(state CompletionState, result Output, err error) bool {
	e.mu.Lock()
	if e.state.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	e.state = state
	if state == Succeeded {
		e.result = result
	}
	if err != nil {
		e.lastError = err
	}
	e.mu.Unlock()

	e.doneOnce.Do(func() { close(e.done) })
	return true
}

func (e *Entry[Input, Output]) snapshotResult() (Output, error, CompletionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.lastError, e.state
}
