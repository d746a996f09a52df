package cases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/signalcheck/internal/check"
)

var tracer = otel.Tracer("github.com/vk/signalcheck/internal/cases")

// T is the handle a runner uses during one execution: signal waits, HTTP
// probes, and assertions all go through it so their outcomes end up in the
// report.
type T struct {
	c    *Case
	test *check.TestExecution

	mu   sync.Mutex
	outs []check.SignalOutcome
}

// Test returns the execution being run.
func (t *T) Test() *check.TestExecution { return t.test }

// Wait suspends until the named signal fires for this test, or timeout
// elapses. An empty key defaults to the test id, which is the common
// correlation key for single-entity flows. The wait's outcome is recorded
// for the report either way.
func (t *T) Wait(ctx context.Context, signal, key string, timeout time.Duration) (*check.SignalEvent, error) {
	s, ok := t.c.byName[signal]
	if !ok {
		return nil, check.Failf("case %q has no signal %q", t.c.cfg.Name, signal)
	}
	if key == "" {
		key = t.test.ID
	}

	ctx, span := tracer.Start(ctx, "signal.wait", trace.WithAttributes(
		attribute.String("signalcheck.signal", signal),
		attribute.String("signalcheck.key", key),
	))
	defer span.End()

	started := time.Now()
	ev, err := t.c.res.Wait(ctx, t.test.ID, signal, key, timeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	out := check.SignalOutcome{
		Name:     s.Name,
		Index:    s.Index,
		Resolved: err == nil,
		Latency:  time.Since(started),
	}
	if err != nil {
		out.Error = err.Error()
	}
	t.mu.Lock()
	t.outs = append(t.outs, out)
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return ev, nil
}

// GetURL probes url with the case's retry policy. A probe that exhausts
// its retries fails the test rather than erroring the worker.
func (t *T) GetURL(ctx context.Context, url string) ([]byte, error) {
	body, err := t.c.probe.Get(ctx, url)
	return body, t.probeErr(err)
}

// PostURL probes url with a body.
func (t *T) PostURL(ctx context.Context, url string, payload []byte) ([]byte, error) {
	body, err := t.c.probe.Post(ctx, url, payload)
	return body, t.probeErr(err)
}

// probeErr converts an exhausted TransportError into a TestFailure so the
// dispatcher treats it as a test outcome.
func (t *T) probeErr(err error) error {
	if err == nil {
		return nil
	}
	var te *check.TransportError
	if errors.As(err, &te) {
		return &check.TestFailure{
			Case:    t.c.cfg.Name,
			Message: te.Error(),
			Cause:   te,
		}
	}
	return err
}

// Failf fails the execution with a formatted message.
func (t *T) Failf(format string, args ...any) error {
	return &check.TestFailure{
		Case:    t.c.cfg.Name,
		Message: fmt.Sprintf(format, args...),
	}
}

// Assert fails the execution when cond is false.
func (t *T) Assert(cond bool, msg string) error {
	if cond {
		return nil
	}
	return &check.TestFailure{Case: t.c.cfg.Name, Message: msg}
}

func (t *T) outcomes() []check.SignalOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	outs := make([]check.SignalOutcome, len(t.outs))
	copy(outs, t.outs)
	return outs
}
