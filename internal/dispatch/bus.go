package dispatch

import (
	"context"
	"encoding/json"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/ctxlog"
	"github.com/vk/signalcheck/internal/registry"
	"github.com/vk/signalcheck/internal/transport"
)

// Bus consumes SignalEvents from the bus topic and routes each to the
// owning case's resolver.
type Bus struct {
	reg  *registry.Registry
	pool *pool
}

// NewBus creates the signal bus dispatcher. concurrency <= 0 selects the
// default of 30 workers.
func NewBus(reg *registry.Registry, concurrency int, m *Metrics) *Bus {
	if concurrency <= 0 {
		concurrency = DefaultBusConcurrency
	}
	b := &Bus{reg: reg}
	b.pool = &pool{name: "bus", size: concurrency, metrics: m, handle: b.handle}
	return b
}

// Run consumes msgs until the channel closes or the context is canceled.
// An event referencing an unregistered case is deployment skew and stops
// the pool with the UnknownCase error.
func (b *Bus) Run(ctx context.Context, msgs <-chan *transport.Message) error {
	return b.pool.run(ctx, msgs)
}

func (b *Bus) handle(ctx context.Context, msg *transport.Message) error {
	logger := ctxlog.FromContext(ctx)

	var ev check.SignalEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// A malformed event is a per-message condition, not skew.
		logger.Warn("Dropping undecodable signal event.", "key", msg.Key, "error", err)
		b.pool.metrics.Processed.WithLabelValues("bus", "dropped").Inc()
		return nil
	}

	name, err := b.reg.ResolveName(ev.CaseName)
	if err != nil {
		return err
	}
	ev.CaseName = name

	c, err := b.reg.Lookup(ev.CaseName)
	if err != nil {
		return err
	}

	logger.Debug("Routing signal event.",
		"case", ev.CaseName, "signal", ev.SignalName, "testID", ev.TestID, "eventKey", ev.Key)
	c.Resolver().Notify(&ev)
	b.pool.metrics.Processed.WithLabelValues("bus", "ok").Inc()
	return nil
}
