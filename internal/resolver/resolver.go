// Package resolver implements the per-case wait/notify correlation engine
// that matches signal events to waiting test executions.
//
// Events and the tests that trigger them travel different paths and arrive
// in either order, so both orderings must observe the same result: a Notify
// with no waiter parks the event in a bounded retention cache, and a Wait
// that finds its event already cached returns it immediately instead of
// blocking.
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/signalcheck/internal/check"
)

// waitKey identifies one correlation slot. A given slot is resolved by at
// most one waiter.
type waitKey struct {
	TestID string
	Signal string
	Key    string
}

func (k waitKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TestID, k.Signal, k.Key)
}

// Resolver correlates signal events with waiters for a single case.
type Resolver struct {
	caseName   string
	maxHistory int

	mu       sync.Mutex
	waiters  map[waitKey]chan *check.SignalEvent
	resolved map[waitKey]*check.SignalEvent
	// order tracks cache insertion for count-based FIFO eviction.
	order []waitKey

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New creates a resolver for the named case. maxHistory bounds the
// retention cache for events that arrived before their waiter; zero or
// negative falls back to the default history limit.
func New(caseName string, maxHistory int) *Resolver {
	if maxHistory <= 0 {
		maxHistory = check.DefaultMaxHistory
	}
	return &Resolver{
		caseName:   caseName,
		maxHistory: maxHistory,
		waiters:    make(map[waitKey]chan *check.SignalEvent),
		resolved:   make(map[waitKey]*check.SignalEvent),
		shutdown:   make(chan struct{}),
	}
}

// Wait suspends until an event matching (testID, signal, key) is observed,
// or timeout elapses. An event that already arrived is consumed from the
// retention cache and returned immediately. A timed-out wait returns a
// TestFailure with Timeout set; a released wait during shutdown returns
// ErrShutdown.
func (r *Resolver) Wait(ctx context.Context, testID, signal, key string, timeout time.Duration) (*check.SignalEvent, error) {
	k := waitKey{TestID: testID, Signal: signal, Key: key}

	r.mu.Lock()
	if ev, ok := r.resolved[k]; ok {
		// Notify arrived first. Consume the cached event so no other
		// waiter can resolve it.
		delete(r.resolved, k)
		r.dropFromOrder(k)
		r.mu.Unlock()
		return ev, nil
	}
	if _, dup := r.waiters[k]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("case %s: duplicate waiter for %s", r.caseName, k)
	}
	ch := make(chan *check.SignalEvent, 1)
	r.waiters[k] = ch
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		if ev := r.abandon(k, ch); ev != nil {
			// Notify raced the timer and already consumed the waiter slot.
			return ev, nil
		}
		return nil, &check.TestFailure{
			Case:    r.caseName,
			Message: fmt.Sprintf("signal %q not received for test %s within %s", signal, testID, timeout),
			Timeout: true,
		}
	case <-ctx.Done():
		r.abandon(k, ch)
		return nil, fmt.Errorf("case %s: wait for %s: %w", r.caseName, k, ctx.Err())
	case <-r.shutdown:
		r.abandon(k, ch)
		return nil, fmt.Errorf("case %s: wait for %s: %w", r.caseName, k, check.ErrShutdown)
	}
}

// Notify delivers an event to the registered waiter for its slot, or parks
// it in the retention cache when no waiter is registered yet. A waiter is
// woken at most once: delivery removes it, so a duplicate Notify for the
// same slot is accepted but only refreshes the cache.
func (r *Resolver) Notify(ev *check.SignalEvent) {
	k := waitKey{TestID: ev.TestID, Signal: ev.SignalName, Key: ev.Key}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.waiters[k]; ok {
		delete(r.waiters, k)
		ch <- ev
		return
	}

	if _, dup := r.resolved[k]; !dup {
		r.order = append(r.order, k)
	}
	r.resolved[k] = ev
	r.evictLocked()
}

// evictLocked enforces the count-based history bound, dropping the oldest
// unconsumed events first.
func (r *Resolver) evictLocked() {
	for len(r.order) > r.maxHistory {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.resolved, oldest)
	}
}

func (r *Resolver) dropFromOrder(k waitKey) {
	for i, o := range r.order {
		if o == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// abandon deregisters a waiter that stopped waiting. When Notify already
// removed the slot and delivered into the buffered channel, the raced event
// is returned so the caller can decide what to do with it.
func (r *Resolver) abandon(k waitKey, ch chan *check.SignalEvent) *check.SignalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, k)
	select {
	case ev := <-ch:
		return ev
	default:
		return nil
	}
}

// Pending returns the number of registered waiters. For health reporting.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Cached returns the number of retained, unconsumed events.
func (r *Resolver) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resolved)
}

// Shutdown releases every outstanding waiter with ErrShutdown instead of
// leaving it to leak. Safe to call more than once.
func (r *Resolver) Shutdown() {
	r.shutdownOnce.Do(func() { close(r.shutdown) })
}
