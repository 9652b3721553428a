package rrl

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// serviceMetrics holds the Prometheus instruments mirroring the status
// snapshot (SPEC_FULL §13). It doubles as the internal listener the
// fanoutListener calls on every pipeline event, plus the atomic counters
// GetStatus reads to build a Snapshot without touching Prometheus on the
// hot path.
type serviceMetrics[Input, Output any] struct {
	NopListener[Input, Output]

	submitted      prometheus.Counter
	succeeded      prometheus.Counter
	failedTerminal prometheus.Counter
	timedOut       prometheus.Counter
	cancelled      prometheus.Counter
	rejected       prometheus.Counter
	ticketsGranted prometheus.Counter
	ticketsDenied  prometheus.Counter
	attemptsFailed prometheus.Counter

	totalSubmitted      int64
	totalSucceeded      int64
	totalFailedTerminal int64
	totalTimedOut       int64
	totalCancelled      int64
	totalRejected       int64
	ticketsGrantedCount int64
	ticketsDeniedCount  int64
}

// newServiceMetrics registers the service's counters against reg (the
// default registry if reg is nil), namespaced by serviceName so multiple
// Service instances in one process don't collide.
func newServiceMetrics[Input, Output any](reg prometheus.Registerer, serviceName string) *serviceMetrics[Input, Output] {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"service": serviceName}
	mustRegister := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
		}
		return c
	}
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rrl",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		return mustRegister(c).(prometheus.Counter)
	}
	return &serviceMetrics[Input, Output]{
		submitted:      newCounter("requests_submitted_total", "Requests accepted by the service."),
		succeeded:      newCounter("requests_succeeded_total", "Requests that completed successfully."),
		failedTerminal: newCounter("requests_failed_total", "Requests that exhausted retries or were terminally failed."),
		timedOut:       newCounter("requests_timed_out_total", "Requests that hit their deadline."),
		cancelled:      newCounter("requests_cancelled_total", "Requests terminated by cancellation."),
		rejected:       newCounter("requests_rejected_total", "Submissions rejected by admission control."),
		ticketsGranted: newCounter("tickets_granted_total", "Rate-limiter tickets granted."),
		ticketsDenied:  newCounter("tickets_denied_total", "Rate-limiter ticket acquisitions that did not obtain a ticket."),
		attemptsFailed: newCounter("attempts_failed_total", "Individual attempt failures, including retried ones."),
	}
}

func (m *serviceMetrics[Input, Output]) RequestAdded(*Entry[Input, Output]) {
	m.submitted.Inc()
	atomic.AddInt64(&m.totalSubmitted, 1)
}
func (m *serviceMetrics[Input, Output]) RequestSuccess(*Entry[Input, Output], Output, int, time.Duration) {
	m.succeeded.Inc()
	atomic.AddInt64(&m.totalSucceeded, 1)
}
func (m *serviceMetrics[Input, Output]) RequestAttemptFailed(*Entry[Input, Output], error, int, time.Duration) {
	m.attemptsFailed.Inc()
}
func (m *serviceMetrics[Input, Output]) RequestFinalFailure(*Entry[Input, Output], error) {
	m.failedTerminal.Inc()
	atomic.AddInt64(&m.totalFailedTerminal, 1)
}
func (m *serviceMetrics[Input, Output]) RequestFinalTimeout(*Entry[Input, Output], time.Duration) {
	m.timedOut.Inc()
	atomic.AddInt64(&m.totalTimedOut, 1)
}
func (m *serviceMetrics[Input, Output]) MainQueueTicketObtainAttempt(_ *Entry[Input, Output], obtained bool, _ time.Duration) {
	if obtained {
		m.ticketsGranted.Inc()
		atomic.AddInt64(&m.ticketsGrantedCount, 1)
	} else {
		m.ticketsDenied.Inc()
		atomic.AddInt64(&m.ticketsDeniedCount, 1)
	}
}

// RequestRemoved fires for every terminal entry, including cancelled ones,
// which have no dedicated terminal-notification callback of their own.
// Success/failure/timeout are already counted by their specific callbacks
// above, so only the cancelled case is handled here to avoid double count.
func (m *serviceMetrics[Input, Output]) RequestRemoved(e *Entry[Input, Output]) {
	if e.State() == Cancelled {
		m.cancelled.Inc()
		atomic.AddInt64(&m.totalCancelled, 1)
	}
}

// recordRejected is called directly by the service, not through the
// listener, since admission rejection has no Entry yet to attach to.
func (m *serviceMetrics[Input, Output]) recordRejected() {
	m.rejected.Inc()
	atomic.AddInt64(&m.totalRejected, 1)
}

// counters snapshots the atomic totals for Snapshot construction.
func (m *serviceMetrics[Input, Output]) counters() (submitted, succeeded, failed, timedOut, cancelled, rejected, granted, denied int64) {
	return atomic.LoadInt64(&m.totalSubmitted),
		atomic.LoadInt64(&m.totalSucceeded),
		atomic.LoadInt64(&m.totalFailedTerminal),
		atomic.LoadInt64(&m.totalTimedOut),
		atomic.LoadInt64(&m.totalCancelled),
		atomic.LoadInt64(&m.totalRejected),
		atomic.LoadInt64(&m.ticketsGrantedCount),
		atomic.LoadInt64(&m.ticketsDeniedCount)
}

// serviceInstanceSuffix formats n as a decimal suffix for telling apart
// metrics of Services that share a serviceName. No option or constructor in
// this package calls it.
func serviceInstanceSuffix(n int) string {
	return strconv.Itoa(n)
}
