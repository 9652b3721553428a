package rrl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestCancellationIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	entry := newEntry[string, string]("x", now, now.Add(time.Hour), now)

	require.True(t, entry.RequestCancellation())
	require.False(t, entry.RequestCancellation())
	require.True(t, entry.CancellationRequested())
}

func TestGetWaitTimeoutVsRequestTimeout(t *testing.T) {
	t.Parallel()
	now := time.Now()
	entry := newEntry[string, string]("x", now, now.Add(time.Hour), now)

	_, err := entry.Get(20 * time.Millisecond)
	var waitTimeout *WaitTimeoutError
	require.ErrorAs(t, err, &waitTimeout)

	entry.finish(TimedOut, "", &RequestTimedOutError{RemainingValidity: -5})
	_, err = entry.Get(time.Second)
	var reqTimeout *RequestTimedOutError
	require.ErrorAs(t, err, &reqTimeout)
}

func TestGetContextInterruptedOnExternalCancel(t *testing.T) {
	t.Parallel()
	now := time.Now()
	entry := newEntry[string, string]("x", now, now.Add(time.Hour), now)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := entry.GetContext(ctx)
	var interrupted *InterruptedError
	require.ErrorAs(t, err, &interrupted)
}

func TestGetOrNullReturnsFalseOnWaitTimeout(t *testing.T) {
	t.Parallel()
	now := time.Now()
	entry := newEntry[string, string]("x", now, now.Add(time.Hour), now)

	_, err, ok := entry.GetOrNull(10 * time.Millisecond)
	require.False(t, ok)
	require.NoError(t, err)
}

func TestFinishIsSingleWrite(t *testing.T) {
	t.Parallel()
	now := time.Now()
	entry := newEntry[string, string]("x", now, now.Add(time.Hour), now)

	require.True(t, entry.finish(Succeeded, "first", nil))
	require.False(t, entry.finish(Succeeded, "second", nil))

	result, err := entry.Get(time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", result)
}
