package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/signalcheck/internal/check"
)

func event(testID, signal, key string) *check.SignalEvent {
	return &check.SignalEvent{
		TestID:     testID,
		CaseName:   "orders",
		SignalName: signal,
		Key:        key,
		Timestamp:  time.Now().UTC(),
	}
}

func TestNotifyThenWait(t *testing.T) {
	r := New("orders", 10)
	ev := event("t1", "persisted", "t1")
	r.Notify(ev)

	got, err := r.Wait(context.Background(), "t1", "persisted", "t1", time.Second)
	require.NoError(t, err)
	assert.Same(t, ev, got)
}

func TestWaitThenNotify(t *testing.T) {
	r := New("orders", 10)
	ev := event("t1", "persisted", "t1")

	done := make(chan struct{})
	var got *check.SignalEvent
	var err error
	go func() {
		defer close(done)
		got, err = r.Wait(context.Background(), "t1", "persisted", "t1", 2*time.Second)
	}()

	// Give the waiter time to register before notifying.
	require.Eventually(t, func() bool { return r.Pending() == 1 },
		time.Second, time.Millisecond)
	r.Notify(ev)

	<-done
	require.NoError(t, err)
	assert.Same(t, ev, got)
}

func TestWaitTimeoutBound(t *testing.T) {
	r := New("orders", 10)
	const timeout = 50 * time.Millisecond

	started := time.Now()
	_, err := r.Wait(context.Background(), "t1", "persisted", "t1", timeout)
	elapsed := time.Since(started)

	var tf *check.TestFailure
	require.ErrorAs(t, err, &tf)
	assert.True(t, tf.Timeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
	assert.Zero(t, r.Pending(), "timed-out waiter must be deregistered")
}

func TestOnlyOneWaiterResolvesAnEvent(t *testing.T) {
	r := New("orders", 10)
	r.Notify(event("t1", "persisted", "t1"))

	_, err := r.Wait(context.Background(), "t1", "persisted", "t1", time.Second)
	require.NoError(t, err)

	// The event was consumed; a second wait for the same slot must not
	// observe it again.
	_, err = r.Wait(context.Background(), "t1", "persisted", "t1", 20*time.Millisecond)
	var tf *check.TestFailure
	require.ErrorAs(t, err, &tf)
	assert.True(t, tf.Timeout)
}

func TestDuplicateNotifyIsAcceptedButCachedOnly(t *testing.T) {
	r := New("orders", 10)
	first := event("t1", "persisted", "t1")
	second := event("t1", "persisted", "t1")

	r.Notify(first)
	got, err := r.Wait(context.Background(), "t1", "persisted", "t1", time.Second)
	require.NoError(t, err)
	require.Same(t, first, got)

	// Duplicate notify after the waiter consumed: lands in the cache, does
	// not panic, does not wake anyone.
	r.Notify(second)
	assert.Equal(t, 1, r.Cached())
}

func TestDistinctKeysResolveIndependently(t *testing.T) {
	r := New("orders", 10)
	r.Notify(event("t1", "persisted", "k1"))
	r.Notify(event("t1", "persisted", "k2"))

	got1, err := r.Wait(context.Background(), "t1", "persisted", "k1", time.Second)
	require.NoError(t, err)
	got2, err := r.Wait(context.Background(), "t1", "persisted", "k2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "k1", got1.Key)
	assert.Equal(t, "k2", got2.Key)
}

func TestRetentionCacheEvictsOldestFirst(t *testing.T) {
	r := New("orders", 2)
	r.Notify(event("t1", "persisted", "t1"))
	r.Notify(event("t2", "persisted", "t2"))
	r.Notify(event("t3", "persisted", "t3"))

	assert.Equal(t, 2, r.Cached())

	// t1 was evicted; t2 and t3 remain observable.
	_, err := r.Wait(context.Background(), "t1", "persisted", "t1", 10*time.Millisecond)
	require.Error(t, err)
	_, err = r.Wait(context.Background(), "t2", "persisted", "t2", time.Second)
	require.NoError(t, err)
	_, err = r.Wait(context.Background(), "t3", "persisted", "t3", time.Second)
	require.NoError(t, err)
}

func TestShutdownReleasesAllWaiters(t *testing.T) {
	r := New("orders", 10)

	const waiters = 5
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Wait(context.Background(),
				"t1", "persisted", string(rune('a'+i)), time.Minute)
		}(i)
	}

	require.Eventually(t, func() bool { return r.Pending() == waiters },
		time.Second, time.Millisecond)
	r.Shutdown()
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, check.ErrShutdown, "waiter %d", i)
	}
	assert.Zero(t, r.Pending())

	// Shutdown is idempotent.
	r.Shutdown()
}

func TestWaitContextCancellation(t *testing.T) {
	r := New("orders", 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := r.Wait(ctx, "t1", "persisted", "t1", time.Minute)
		done <- err
	}()

	require.Eventually(t, func() bool { return r.Pending() == 1 },
		time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, r.Pending())
}
