package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/ctxlog"
	"github.com/vk/signalcheck/internal/execctx"
	"github.com/vk/signalcheck/internal/transport"
)

// Trigger mints a fresh TestExecution for the named case and produces it
// onto the pending-tests topic keyed by its test id.
func (a *App) Trigger(ctx context.Context, caseName string) (*check.TestExecution, error) {
	name, err := a.reg.ResolveName(caseName)
	if err != nil {
		return nil, err
	}
	c, err := a.reg.Lookup(name)
	if err != nil {
		return nil, err
	}

	test := check.NewTestExecution(c.Name(), c.Config().TestExpires)
	if err := a.produce(ctx, a.cfg.TestTopic, test.ID, test); err != nil {
		return nil, fmt.Errorf("trigger case %q: %w", c.Name(), err)
	}
	ctxlog.FromContext(ctx).Info("Triggered test execution.",
		"case", c.Name(), "testID", test.ShortID())
	return test, nil
}

// EmitSignal is the instrumentation surface for pipeline stages: it
// publishes a SignalEvent onto the bus. The correlated test id is taken
// from the path's active execution context when one is set, otherwise from
// the key, which then must carry the correlation itself.
func (a *App) EmitSignal(ctx context.Context, caseName, signalName, key, value string) error {
	testID := key
	if test := execctx.Current(ctx); test != nil {
		testID = test.ID
		if key == "" {
			key = test.ID
		}
	}
	if testID == "" {
		return fmt.Errorf("emit signal %q for case %q: no active test and no key", signalName, caseName)
	}

	ev := &check.SignalEvent{
		TestID:     testID,
		CaseName:   caseName,
		SignalName: signalName,
		Key:        key,
		Value:      value,
		Timestamp:  time.Now().UTC(),
	}
	return a.produce(ctx, a.cfg.BusTopic, ev.TestID, ev)
}

// produce JSON-encodes payload and publishes it, stamping the active
// execution's identity onto the message headers. Header stamping happens on
// every produce path so identity survives arbitrarily many asynchronous
// hops.
func (a *App) produce(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message for topic %q: %w", topic, err)
	}
	msg := &transport.Message{Topic: topic, Key: key, Value: value}
	if err := execctx.AttachHeaders(ctx, a.tr, msg); err != nil {
		return err
	}
	return a.tr.Produce(ctx, msg)
}
