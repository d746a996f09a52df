package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/signalcheck/internal/ctxlog"
	"github.com/vk/signalcheck/internal/dispatch"
)

// stallCheckInterval is how often the stall monitor samples case health.
const stallCheckInterval = 30 * time.Second

// Run starts both dispatcher pools, the per-case trigger loops, the stall
// monitor and the ops server, then blocks until the context is canceled or
// a fatal error surfaces. On the way out every case's outstanding signal
// waiters are released.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	defer func() {
		a.reg.Shutdown()
		if a.archive != nil {
			a.archive.Close()
		}
	}()

	busCh, err := a.tr.Subscribe(ctx, a.cfg.BusTopic)
	if err != nil {
		return fmt.Errorf("subscribe bus topic: %w", err)
	}
	testCh, err := a.tr.Subscribe(ctx, a.cfg.TestTopic)
	if err != nil {
		return fmt.Errorf("subscribe test topic: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	bus := dispatch.NewBus(a.reg, a.cfg.BusConcurrency, a.metrics)
	g.Go(func() error { return bus.Run(gctx, busCh) })

	tests := dispatch.NewTests(a.reg, a.cfg.TestConcurrency, a.emitter, a.metrics)
	g.Go(func() error { return tests.Run(gctx, testCh) })

	a.startCaseLoops(gctx, g)
	g.Go(func() error { return a.stallMonitor(gctx) })

	if a.cfg.OpsPort > 0 {
		g.Go(func() error { return a.serveOps(gctx) })
	}

	a.logger.Info("signalcheck engine running.",
		"cases", a.reg.Len(),
		"busConcurrency", a.cfg.BusConcurrency,
		"testConcurrency", a.cfg.TestConcurrency)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine stopped: %w", err)
	}
	a.logger.Info("signalcheck engine stopped.")
	return nil
}

// startCaseLoops spawns a periodic trigger loop for every active case with
// a run frequency.
func (a *App) startCaseLoops(ctx context.Context, g *errgroup.Group) {
	for _, c := range a.reg.Cases() {
		freq := c.Config().Frequency
		if freq <= 0 || !c.Active() {
			continue
		}
		c := c
		g.Go(func() error {
			logger := ctxlog.FromContext(ctx).With("case", c.Name())
			logger.Debug("Periodic trigger loop started.", "frequency", freq)
			ticker := time.NewTicker(freq)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if !c.Sample() {
						logger.Debug("Trigger skipped by sampling probability.")
						continue
					}
					if _, err := a.Trigger(ctx, c.Name()); err != nil {
						logger.Error("Periodic trigger failed.", "error", err)
					}
				}
			}
		})
	}
}

// stallMonitor warns when a case has gone quiet for longer than its
// warn-stalled-after window, once per stall episode.
func (a *App) stallMonitor(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()

	warned := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			for _, c := range a.reg.Cases() {
				st := c.Status(now)
				switch {
				case st.Stalled && !warned[st.Name]:
					warned[st.Name] = true
					logger.Warn("Case appears stalled, no tests received.",
						"case", st.Name,
						"lastReceived", st.LastReceived,
						"warnStalledAfter", c.Config().WarnStalledAfter)
				case !st.Stalled && warned[st.Name]:
					delete(warned, st.Name)
					logger.Info("Case recovered from stall.", "case", st.Name)
				}
				if st.Unhealthy {
					logger.Error("Case exceeded max consecutive failures.",
						"case", st.Name, "consecutiveFailures", st.ConsecutiveFailures)
				}
			}
		}
	}
}
