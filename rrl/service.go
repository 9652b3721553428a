package rrl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rrl/clock"
	"rrl/internal/logx"
	"rrl/internal/rsupervisor"
)

// serviceOptions accumulates Option values before New constructs the
// concrete collaborators; keeping it separate from Service lets every
// Option be a plain field assignment regardless of construction order.
type serviceOptions[Input, Output any] struct {
	log               logx.Logger
	listener          Listener[Input, Output]
	mainDecider       MainQueueDecider[Input, Output]
	afterDecider      AfterAttemptDecider[Input, Output]
	delayDecider      DelayQueueDecider[Input, Output]
	metricsRegisterer prometheus.Registerer
	clk               clock.Clock
}

// Option configures optional collaborators at construction time. The zero
// value of every field defaults to the teacher-idiom default described in
// SPEC_FULL.md §4.
type Option[Input, Output any] func(*serviceOptions[Input, Output])

func WithLogger[Input, Output any](log logx.Logger) Option[Input, Output] {
	return func(o *serviceOptions[Input, Output]) { o.log = log }
}

func WithListener[Input, Output any](l Listener[Input, Output]) Option[Input, Output] {
	return func(o *serviceOptions[Input, Output]) { o.listener = l }
}

func WithMainQueueDecider[Input, Output any](d MainQueueDecider[Input, Output]) Option[Input, Output] {
	return func(o *serviceOptions[Input, Output]) { o.mainDecider = d }
}

func WithAfterAttemptDecider[Input, Output any](d AfterAttemptDecider[Input, Output]) Option[Input, Output] {
	return func(o *serviceOptions[Input, Output]) { o.afterDecider = d }
}

func WithDelayQueueDecider[Input, Output any](d DelayQueueDecider[Input, Output]) Option[Input, Output] {
	return func(o *serviceOptions[Input, Output]) { o.delayDecider = d }
}

func WithMetricsRegisterer[Input, Output any](reg prometheus.Registerer) Option[Input, Output] {
	return func(o *serviceOptions[Input, Output]) { o.metricsRegisterer = reg }
}

func WithClock[Input, Output any](clk clock.Clock) Option[Input, Output] {
	return func(o *serviceOptions[Input, Output]) { o.clk = clk }
}

// Service is the facade described in spec.md §4.9: submission API,
// start/shutdown lifecycle, and cached status snapshots. One Service
// instance owns one dispatcher, one executor pool, one ticket bucket, and
// Config.DelayQueueCount delay queues. The dispatcher loop and every delay
// queue drainer run as rsupervisor-managed goroutines sharing one
// Supervisor, so a panic in any of them is recovered, logged, and — via
// WithCancelOnError — brings the rest of the pipeline down with it rather
// than leaving the service half-alive.
type Service[Input, Output any] struct {
	cfg Config
	clk clock.Clock
	log logx.Logger

	listener *safeListener[Input, Output]
	metrics  *serviceMetrics[Input, Output]

	executor    *executorPool
	ticket      *ticketBucket
	delayQueues []*delayQueue[Input, Output]
	dispatcher  *dispatcher[Input, Output]
	sup         *rsupervisor.Supervisor

	mu      sync.Mutex
	started bool
	stopped bool
	pending int64 // live, non-terminal entries; enforced against cfg.MaxPendingRequests

	snapMu      sync.Mutex
	lastSnap    Snapshot
	lastSnapGen time.Time
}

// New constructs a Service from cfg and attemptFn. The service is not
// started; call Start before submitting work.
func New[Input, Output any](cfg Config, attemptFn AttemptFunc[Input, Output], opts ...Option[Input, Output]) (*Service[Input, Output], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if attemptFn == nil {
		return nil, fmt.Errorf("rrl: attemptFn must not be nil")
	}

	var o serviceOptions[Input, Output]
	for _, opt := range opts {
		opt(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.clk == nil {
		if cfg.TimeFactor > 0 && cfg.TimeFactor != 1 {
			o.clk = clock.NewScaled(cfg.TimeFactor)
		} else {
			o.clk = clock.Real{}
		}
	}
	if o.mainDecider == nil {
		o.mainDecider = DefaultMainQueueDecider[Input, Output]{}
	}
	if o.afterDecider == nil {
		o.afterDecider = DefaultAfterAttemptDecider[Input, Output]{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay.Duration(),
			MaxDelay:    cfg.RetryMaxDelay.Duration(),
		}
	}
	grace := cfg.RequestEarlyProcessingGracePeriod.Duration()
	if o.delayDecider == nil {
		o.delayDecider = DefaultDelayQueueDecider[Input, Output]{
			Grace:        grace,
			MaxSleepStep: cfg.MaxSleepStep.Duration(),
		}
	}

	metrics := newServiceMetrics[Input, Output](o.metricsRegisterer, cfg.ServiceName)
	listener := newSafeListener[Input, Output](newFanoutListener[Input, Output](metrics, o.listener))

	executor := newExecutorPool(cfg.ThreadPoolSize)
	ticket := newTicketBucket(cfg.RateLimit, cfg.RateLimitBurst)

	// WithCancelOnError(true): the dispatcher is the service's single point
	// of failure for in-flight work, so a panic or fatal error in it (or in
	// any delay-queue drainer) tears down every other supervised goroutine
	// instead of leaving the pipeline half-alive.
	sup := rsupervisor.New(context.Background(), rsupervisor.WithLogger(o.log), rsupervisor.WithCancelOnError(true))

	svc := &Service[Input, Output]{
		cfg:      cfg,
		clk:      o.clk,
		log:      o.log,
		listener: listener,
		metrics:  metrics,
		executor: executor,
		ticket:   ticket,
		sup:      sup,
	}

	delayQueues := make([]*delayQueue[Input, Output], cfg.DelayQueueCount)
	for i := range delayQueues {
		delayQueues[i] = newDelayQueue[Input, Output](o.clk, o.delayDecider, listener, grace, svc.onDelayQueuePromoted)
	}
	svc.delayQueues = delayQueues

	svc.dispatcher = &dispatcher[Input, Output]{
		clk:          o.clk,
		cfg:          cfg,
		attemptFn:    attemptFn,
		mainDecider:  o.mainDecider,
		afterDecider: o.afterDecider,
		listener:     listener,
		executor:     executor,
		ticket:       ticket,
		delayQueues:  delayQueues,
		grace:        grace,
		mainQ:        make(chan *Entry[Input, Output], cfg.MaxPendingRequests),
		resultCh:     make(chan attemptResult[Input, Output], cfg.ThreadPoolSize*2),
		ctx:          sup.Context(),
	}

	return svc, nil
}

func (s *Service[Input, Output]) onDelayQueuePromoted(entry *Entry[Input, Output]) {
	s.dispatcher.enqueueMain(entry)
}

// Start launches the dispatcher and the delay-queue drainers, each as a
// named goroutine under the service's Supervisor. Idempotent.
func (s *Service[Input, Output]) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.sup.Go("dispatcher", s.dispatcher.run)
	for i, dq := range s.delayQueues {
		dq := dq
		s.sup.Go(fmt.Sprintf("delay-queue-%d", i), dq.run)
	}
	s.log.Info("rrl: service started", logx.String("service", s.cfg.ServiceName))
}

// Shutdown stops accepting new work and waits up to graceful for in-flight
// and queued entries to reach a terminal state, then cancels the
// Supervisor's context and waits for the dispatcher and every delay-queue
// drainer to exit (spec.md §5: "shutdown cancels all waits promptly and
// terminates all non-completed entries as Cancelled").
func (s *Service[Input, Output]) Shutdown(graceful time.Duration) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	deadline := time.Now().Add(graceful)
	for graceful > 0 && time.Now().Before(deadline) {
		if s.LivePending() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.sup.Stop(context.Background()); err != nil {
		s.log.Error("rrl: service goroutines did not stop cleanly", logx.Err(err))
	}
	s.log.Info("rrl: service stopped", logx.String("service", s.cfg.ServiceName))
}

// LivePending returns the current count of non-terminal entries, used by
// Shutdown's graceful-drain wait and exposed for operational visibility.
func (s *Service[Input, Output]) LivePending() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Submit is the base submission operation: input plus an absolute
// validUntil. notBefore defaults to now (no initial delay).
func (s *Service[Input, Output]) Submit(input Input, validUntil time.Time) (*Entry[Input, Output], error) {
	return s.SubmitUntilWithDelayUntil(input, validUntil, time.Time{})
}

// SubmitFor submits with a relative timeout from now and no initial delay.
func (s *Service[Input, Output]) SubmitFor(input Input, timeout time.Duration) (*Entry[Input, Output], error) {
	now := s.clk.Now()
	return s.SubmitUntilWithDelayUntil(input, now.Add(timeout), time.Time{})
}

// SubmitForWithDelayFor submits with a relative timeout and a relative
// initial delay before the first attempt may run.
func (s *Service[Input, Output]) SubmitForWithDelayFor(input Input, timeout, delayFor time.Duration) (*Entry[Input, Output], error) {
	now := s.clk.Now()
	return s.SubmitUntilWithDelayUntil(input, now.Add(timeout), now.Add(delayFor))
}

// SubmitUntilWithDelayUntil is the fully explicit submission operation
// every other Submit* variant routes through (spec.md §4.9).
func (s *Service[Input, Output]) SubmitUntilWithDelayUntil(input Input, validUntil, notBefore time.Time) (*Entry[Input, Output], error) {
	now := s.clk.Now()
	if notBefore.IsZero() {
		notBefore = now
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	if s.pending >= int64(s.cfg.MaxPendingRequests) {
		s.mu.Unlock()
		s.metrics.recordRejected()
		return nil, ErrTooManyPending
	}
	s.pending++
	s.mu.Unlock()

	entry := newEntry[Input, Output](input, now, validUntil, notBefore)
	s.listener.RequestAdded(entry)
	s.trackRemoval(entry)

	grace := s.cfg.RequestEarlyProcessingGracePeriod.Duration()
	if notBefore.Sub(now) <= grace {
		s.dispatcher.enqueueMain(entry)
	} else {
		s.dispatcher.routeToDelayQueue(entry, notBefore)
	}
	return entry, nil
}

// trackRemoval decrements the pending count exactly once, when entry
// reaches a terminal state, by racing a goroutine against entry.done. This
// keeps Service.pending in sync without requiring dispatcher/delayQueue to
// know about admission bookkeeping at all.
func (s *Service[Input, Output]) trackRemoval(entry *Entry[Input, Output]) {
	go func() {
		<-entry.done
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
	}()
}

// GetStatus returns the cached snapshot if its age is <= cacheFor,
// otherwise regenerates one (spec.md §4.9).
func (s *Service[Input, Output]) GetStatus(cacheFor time.Duration) Snapshot {
	s.snapMu.Lock()
	if cacheFor > 0 && !s.lastSnapGen.IsZero() && s.clk.Now().Sub(s.lastSnapGen) <= cacheFor {
		snap := s.lastSnap
		s.snapMu.Unlock()
		return snap
	}
	s.snapMu.Unlock()

	depths := make([]int, len(s.delayQueues))
	// The Supervisor is shared with WithCancelOnError(true): a fatal error
	// in any one supervised goroutine cancels the rest, so liveness is a
	// single flag rather than tracked per goroutine.
	alive := s.sup.Err() == nil
	drainersAlive := make([]bool, len(s.delayQueues))
	for i, dq := range s.delayQueues {
		depths[i] = dq.len()
		drainersAlive[i] = alive
	}

	submitted, succeeded, failed, timedOut, cancelled, rejected, granted, denied := s.metrics.counters()

	snap := Snapshot{
		GeneratedAt:         s.clk.Now(),
		MainQueueDepth:      len(s.dispatcher.mainQ),
		DelayQueueDepths:    depths,
		ActiveWorkers:       s.executor.used(),
		WorkerPoolSize:      s.cfg.ThreadPoolSize,
		DispatcherAlive:     alive,
		DelayDrainersAlive:  drainersAlive,
		TotalSubmitted:      submitted,
		TotalSucceeded:      succeeded,
		TotalFailedTerminal: failed,
		TotalTimedOut:       timedOut,
		TotalCancelled:      cancelled,
		TotalRejected:       rejected,
		TicketsGranted:      granted,
		TicketsDenied:       denied,
	}

	s.snapMu.Lock()
	s.lastSnap = snap
	s.lastSnapGen = snap.GeneratedAt
	s.snapMu.Unlock()
	return snap
}
