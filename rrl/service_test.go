package rrl

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ServiceName = fmt.Sprintf("rrl-test-%d", time.Now().UnixNano())
	cfg.ThreadPoolSize = 4
	cfg.DelayQueueCount = 2
	cfg.MaxAttempts = 3
	cfg.RetryBaseDelay = Duration(10 * time.Millisecond)
	cfg.RetryMaxDelay = Duration(80 * time.Millisecond)
	cfg.RequestEarlyProcessingGracePeriod = Duration(5 * time.Millisecond)
	cfg.RateLimit = Rate{N: 1000, Interval: time.Second}
	cfg.RateLimitBurst = 1000
	cfg.MaxPendingRequests = 100
	return cfg
}

// TestSuccessAfterTwoFailures mirrors scenario 1: attemptFn fails until the
// third attempt, which succeeds.
func TestSuccessAfterTwoFailures(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	var calls int64
	attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
		n := atomic.AddInt64(&calls, 1)
		if n < 3 {
			return "", fmt.Errorf("attempt:%d", n)
		}
		return "done:" + input, nil
	}

	svc, err := New[string, string](cfg, attempt)
	require.NoError(t, err)
	svc.Start()
	defer svc.Shutdown(time.Second)

	entry, err := svc.SubmitFor("job-1", 5*time.Second)
	require.NoError(t, err)

	result, err := entry.Get(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "done:job-1", result)
	require.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

// TestRetryBudgetExhausted mirrors scenario 2: attemptFn always fails, the
// future resolves to AttemptFailedError wrapping the last cause.
func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
		return "", fmt.Errorf("attempt:%d", attemptNumber)
	}

	svc, err := New[string, string](cfg, attempt)
	require.NoError(t, err)
	svc.Start()
	defer svc.Shutdown(time.Second)

	entry, err := svc.SubmitFor("job-2", 5*time.Second)
	require.NoError(t, err)

	_, err = entry.Get(2 * time.Second)
	require.Error(t, err)

	var failed *AttemptFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, 3, failed.Attempts)
	require.Contains(t, failed.Cause.Error(), "attempt:3")
}

// TestDeadlineHitMidRetry mirrors scenario 3: a short timeout cuts retries
// short and surfaces RequestTimedOutError instead of exhausting attempts.
func TestDeadlineHitMidRetry(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	var calls int64
	attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "", fmt.Errorf("attempt:%d", attemptNumber)
	}

	svc, err := New[string, string](cfg, attempt)
	require.NoError(t, err)
	svc.Start()
	defer svc.Shutdown(time.Second)

	entry, err := svc.SubmitFor("job-3", 25*time.Millisecond)
	require.NoError(t, err)

	_, err = entry.Get(2 * time.Second)
	require.Error(t, err)

	var timedOut *RequestTimedOutError
	require.ErrorAs(t, err, &timedOut)
	require.LessOrEqual(t, atomic.LoadInt64(&calls), int64(2))
}

// TestBackPressureRejectsOverflow mirrors scenario 6: once maxPending live
// entries are outstanding, the next submission is rejected synchronously.
func TestBackPressureRejectsOverflow(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxPendingRequests = 5

	block := make(chan struct{})
	attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
		<-block
		return input, nil
	}

	svc, err := New[string, string](cfg, attempt)
	require.NoError(t, err)
	svc.Start()
	defer func() {
		close(block)
		svc.Shutdown(time.Second)
	}()

	for i := 0; i < cfg.MaxPendingRequests; i++ {
		_, err := svc.SubmitFor(fmt.Sprintf("job-%d", i), 10*time.Second)
		require.NoError(t, err)
	}

	_, err = svc.SubmitFor("overflow", 10*time.Second)
	require.ErrorIs(t, err, ErrTooManyPending)
}

// TestListenerEventOrdering asserts the total-ordering property of spec.md
// §8: requestAdded precedes every per-attempt event, which precedes the
// terminal event, which precedes requestRemoved.
func TestListenerEventOrdering(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	rec := NewRecordingListener[string, string]()

	attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
		return input, nil
	}

	svc, err := New[string, string](cfg, attempt, WithListener[string, string](rec))
	require.NoError(t, err)
	svc.Start()
	defer svc.Shutdown(time.Second)

	entry, err := svc.SubmitFor("job-order", 2*time.Second)
	require.NoError(t, err)
	_, err = entry.Get(time.Second)
	require.NoError(t, err)

	events := rec.Events(entry.ID())
	require.NotEmpty(t, events)
	require.Equal(t, "requestAdded", events[0].Name)
	require.Equal(t, "requestRemoved", events[len(events)-1].Name)

	sawSuccess := false
	for _, ev := range events {
		if ev.Name == "requestSuccess" {
			sawSuccess = true
		}
	}
	require.True(t, sawSuccess)
}

// TestGraceWindowRoutingBoundary mirrors scenario 5: a delay within the
// grace period is dispatched straight to the main queue, while a delay
// beyond it is routed through a delay queue shard instead.
func TestGraceWindowRoutingBoundary(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.RequestEarlyProcessingGracePeriod = Duration(50 * time.Millisecond)

	attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
		return input, nil
	}

	svc, err := New[string, string](cfg, attempt)
	require.NoError(t, err)
	svc.Start()
	defer svc.Shutdown(time.Second)

	within, err := svc.SubmitForWithDelayFor("within-grace", 2*time.Second, 40*time.Millisecond)
	require.NoError(t, err)
	beyond, err := svc.SubmitForWithDelayFor("beyond-grace", 2*time.Second, 70*time.Millisecond)
	require.NoError(t, err)

	// The within-grace entry goes straight to the main queue: it should
	// show up there (or already be dispatched) almost immediately, well
	// before its own delay would have elapsed.
	require.Eventually(t, func() bool {
		return len(svc.dispatcher.mainQ) > 0 || within.State() != Pending
	}, 30*time.Millisecond, time.Millisecond)

	// The beyond-grace entry is routed to a delay queue shard instead and
	// must not appear in the main queue before its own delay elapses.
	depthBeforeDelay := 0
	for _, dq := range svc.delayQueues {
		depthBeforeDelay += dq.len()
	}
	require.Positive(t, depthBeforeDelay)

	_, err = within.Get(time.Second)
	require.NoError(t, err)
	_, err = beyond.Get(time.Second)
	require.NoError(t, err)
}

// TestDelayedStart mirrors scenario 4: submitting with an initial delay
// produces exactly one attempt, starting near the requested delay.
func TestDelayedStart(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	var calls int64
	var firstAttemptAt time.Time
	attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			firstAttemptAt = time.Now()
		}
		return input, nil
	}

	svc, err := New[string, string](cfg, attempt)
	require.NoError(t, err)
	svc.Start()
	defer svc.Shutdown(time.Second)

	submittedAt := time.Now()
	entry, err := svc.SubmitForWithDelayFor("job-delayed", 2*time.Second, 150*time.Millisecond)
	require.NoError(t, err)

	_, err = entry.Get(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
	require.WithinDuration(t, submittedAt.Add(150*time.Millisecond), firstAttemptAt, 100*time.Millisecond)
}
