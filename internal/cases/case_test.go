package cases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/signalcheck/internal/check"
)

func passingRunner(context.Context, *T) error { return nil }

func newOrdersCase(t *testing.T, runner RunnerFunc, signals ...string) *Case {
	t.Helper()
	c, err := New(check.CaseConfig{
		Name:    "orders",
		Active:  true,
		Signals: signals,
	}, runner)
	require.NoError(t, err)
	for i, s := range c.Signals() {
		s.Index = i + 1
	}
	return c
}

func TestNewRequiresNameAndRunner(t *testing.T) {
	_, err := New(check.CaseConfig{}, passingRunner)
	assert.Error(t, err)

	_, err = New(check.CaseConfig{Name: "orders"}, nil)
	assert.Error(t, err)
}

func TestNewRejectsDuplicateSignals(t *testing.T) {
	_, err := New(check.CaseConfig{
		Name:    "orders",
		Signals: []string{"persisted", "persisted"},
	}, passingRunner)
	assert.Error(t, err)
}

func TestExecutePassingRunner(t *testing.T) {
	c := newOrdersCase(t, passingRunner)
	test := check.NewTestExecution("orders", time.Hour)

	rep := c.Execute(context.Background(), test)
	assert.True(t, rep.Passed)
	assert.Empty(t, rep.Error)
	assert.Same(t, test, rep.Test)
	assert.Greater(t, rep.Runtime, time.Duration(0))
}

func TestExecuteFailingRunnerIsCapturedNotPropagated(t *testing.T) {
	c := newOrdersCase(t, func(_ context.Context, ft *T) error {
		return ft.Failf("order %s never shipped", "o-1")
	})

	rep := c.Execute(context.Background(), check.NewTestExecution("orders", time.Hour))
	assert.False(t, rep.Passed)
	assert.Contains(t, rep.Error, "order o-1 never shipped")
}

func TestWaitRecordsSignalOutcome(t *testing.T) {
	c := newOrdersCase(t, func(ctx context.Context, ft *T) error {
		_, err := ft.Wait(ctx, "persisted", "", time.Second)
		return err
	}, "persisted")

	test := check.NewTestExecution("orders", time.Hour)

	// Notify before the wait: the resolver cache hands it straight back.
	c.Resolver().Notify(&check.SignalEvent{
		TestID:     test.ID,
		CaseName:   "orders",
		SignalName: "persisted",
		Key:        test.ID,
	})

	rep := c.Execute(context.Background(), test)
	require.True(t, rep.Passed, "error: %s", rep.Error)
	require.Len(t, rep.Signals, 1)
	assert.Equal(t, "persisted", rep.Signals[0].Name)
	assert.Equal(t, 1, rep.Signals[0].Index)
	assert.True(t, rep.Signals[0].Resolved)
}

func TestWaitTimeoutFailsTheOutcome(t *testing.T) {
	c := newOrdersCase(t, func(ctx context.Context, ft *T) error {
		_, err := ft.Wait(ctx, "persisted", "", 20*time.Millisecond)
		return err
	}, "persisted")

	rep := c.Execute(context.Background(), check.NewTestExecution("orders", time.Hour))
	assert.False(t, rep.Passed)
	require.Len(t, rep.Signals, 1)
	assert.False(t, rep.Signals[0].Resolved)
	assert.NotEmpty(t, rep.Signals[0].Error)
}

func TestWaitUndeclaredSignal(t *testing.T) {
	c := newOrdersCase(t, func(ctx context.Context, ft *T) error {
		_, err := ft.Wait(ctx, "ghost", "", time.Second)
		return err
	}, "persisted")

	rep := c.Execute(context.Background(), check.NewTestExecution("orders", time.Hour))
	assert.False(t, rep.Passed)
	assert.Contains(t, rep.Error, "ghost")
	assert.Empty(t, rep.Signals, "an undeclared signal records no outcome")
}

func TestConsecutiveFailureTracking(t *testing.T) {
	fail := true
	c, err := New(check.CaseConfig{
		Name:                   "orders",
		Active:                 true,
		MaxConsecutiveFailures: 3,
	}, func(context.Context, *T) error {
		if fail {
			return check.Failf("boom")
		}
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c.Execute(context.Background(), check.NewTestExecution("orders", time.Hour))
	}
	st := c.Status(time.Now())
	assert.Equal(t, 3, st.ConsecutiveFailures)
	assert.True(t, st.Unhealthy)

	fail = false
	c.Execute(context.Background(), check.NewTestExecution("orders", time.Hour))
	st = c.Status(time.Now())
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.Unhealthy)
	assert.Equal(t, 1, st.Passed)
	assert.Equal(t, 3, st.Failed)
}

func TestSampleProbabilityBounds(t *testing.T) {
	never, err := New(check.CaseConfig{Name: "never", Probability: 0}, passingRunner)
	require.NoError(t, err)
	always, err := New(check.CaseConfig{Name: "always", Probability: 1}, passingRunner)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		assert.False(t, never.Sample())
		assert.True(t, always.Sample())
	}
}

func TestStatusStallDetection(t *testing.T) {
	c, err := New(check.CaseConfig{
		Name:             "orders",
		Active:           true,
		WarnStalledAfter: time.Minute,
	}, passingRunner)
	require.NoError(t, err)

	now := time.Now()
	assert.False(t, c.Status(now).Stalled, "never received is not stalled")

	c.MarkReceived(now.Add(-2 * time.Minute))
	assert.True(t, c.Status(now).Stalled)

	c.MarkReceived(now)
	assert.False(t, c.Status(now).Stalled)
}

func TestSkipReport(t *testing.T) {
	c := newOrdersCase(t, passingRunner)
	test := check.NewTestExecution("orders", time.Hour)
	rep := c.SkipReport(test, "test expired before execution")
	assert.True(t, rep.Skipped)
	assert.False(t, rep.Passed)
	assert.Equal(t, "test expired before execution", rep.Error)
}
