package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/ctxlog"
	"github.com/vk/signalcheck/internal/execctx"
	"github.com/vk/signalcheck/internal/registry"
	"github.com/vk/signalcheck/internal/report"
	"github.com/vk/signalcheck/internal/transport"
)

// Tests consumes TestExecution requests from the pending-tests topic and
// runs case bodies with the execution context installed.
type Tests struct {
	reg     *registry.Registry
	emitter report.Emitter
	tracer  trace.Tracer
	pool    *pool
}

// NewTests creates the test dispatcher. concurrency <= 0 selects the
// default of 100 workers. emitter may be nil when reporting is disabled.
func NewTests(reg *registry.Registry, concurrency int, emitter report.Emitter, m *Metrics) *Tests {
	if concurrency <= 0 {
		concurrency = DefaultTestConcurrency
	}
	d := &Tests{
		reg:     reg,
		emitter: emitter,
		tracer:  otel.Tracer("github.com/vk/signalcheck/internal/dispatch"),
	}
	d.pool = &pool{name: "tests", size: concurrency, metrics: m, handle: d.handle}
	return d
}

// Run consumes msgs until the channel closes or the context is canceled.
// A failing test never stops the pool; an unknown case name does, because
// it means the deployment and the registry disagree.
func (d *Tests) Run(ctx context.Context, msgs <-chan *transport.Message) error {
	return d.pool.run(ctx, msgs)
}

func (d *Tests) handle(ctx context.Context, msg *transport.Message) error {
	logger := ctxlog.FromContext(ctx)

	var test check.TestExecution
	if err := json.Unmarshal(msg.Value, &test); err != nil {
		logger.Warn("Dropping undecodable test execution.", "key", msg.Key, "error", err)
		d.pool.metrics.Processed.WithLabelValues("tests", "dropped").Inc()
		return nil
	}

	name, err := d.reg.ResolveName(test.CaseName)
	if err != nil {
		return err
	}
	test.CaseName = name

	c, err := d.reg.Lookup(test.CaseName)
	if err != nil {
		return err
	}

	now := time.Now()
	c.MarkReceived(now)

	if test.IsExpired(now) {
		logger.Info("Skipping expired test execution.",
			"case", test.CaseName, "testID", test.ShortID(), "expired", test.Expires)
		d.emit(ctx, c.SkipReport(&test, "test expired before execution"))
		d.pool.metrics.Processed.WithLabelValues("tests", "skipped").Inc()
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "case.execute", trace.WithAttributes(
		attribute.String("signalcheck.case", test.CaseName),
		attribute.String("signalcheck.test_id", test.ID),
	))
	defer span.End()

	// Install this execution as the path's active test; pop on the way
	// out no matter how the body ends.
	stack := execctx.NewStack()
	ctx = execctx.WithStack(ctx, stack)
	stack.Push(&test)
	defer stack.Pop()

	rep := c.Execute(ctx, &test)

	if rep.Passed {
		span.SetStatus(codes.Ok, "")
		d.pool.metrics.Processed.WithLabelValues("tests", "passed").Inc()
	} else {
		span.SetStatus(codes.Error, rep.Error)
		d.pool.metrics.Processed.WithLabelValues("tests", "failed").Inc()
		logger.Warn("Test execution failed.",
			"case", test.CaseName, "testID", test.ShortID(), "error", rep.Error)
	}

	d.emit(ctx, rep)
	return nil
}

func (d *Tests) emit(ctx context.Context, rep *check.TestReport) {
	if d.emitter == nil {
		return
	}
	if err := d.emitter.Emit(ctx, rep); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to emit test report.",
			"case", rep.CaseName, "error", err)
	}
}
