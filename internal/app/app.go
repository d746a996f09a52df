// Package app assembles the signalcheck engine: the case registry, the two
// dispatcher pools, the report emitters and the ops server, around an
// injected transport.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/signalcheck/internal/caseconf"
	"github.com/vk/signalcheck/internal/cases"
	"github.com/vk/signalcheck/internal/ctxlog"
	"github.com/vk/signalcheck/internal/dispatch"
	"github.com/vk/signalcheck/internal/registry"
	"github.com/vk/signalcheck/internal/report"
	"github.com/vk/signalcheck/internal/transport"
)

// App encapsulates one engine instance: its configuration, isolated logger
// and registry, and the injected transport.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	cfg     *Config
	reg     *registry.Registry
	tr      transport.Transport
	metrics *dispatch.Metrics
	promReg *prometheus.Registry
	emitter report.Emitter
	archive *report.Archive
}

// NewApp builds a fully initialized App. Startup misconfiguration panics;
// the CLI entrypoint recovers and turns it into a clean exit, and the test
// harness captures it as a startup error.
func NewApp(outW io.Writer, cfg *Config, tr transport.Transport, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New(cfg.Origin)
	for _, mod := range modules {
		if err := mod.Register(ctx, reg); err != nil {
			panic(fmt.Errorf("failed to register module: %w", err))
		}
	}
	logger.Debug("Go modules registered.", "count", len(modules))

	a := &App{
		outW:    outW,
		logger:  logger,
		cfg:     cfg,
		reg:     reg,
		tr:      tr,
		promReg: prometheus.NewRegistry(),
	}
	a.metrics = dispatch.NewMetrics(a.promReg)

	if cfg.CasesPath != "" {
		if err := a.loadDeclarations(ctx); err != nil {
			panic(fmt.Errorf("failed to load case declarations: %w", err))
		}
	}
	if reg.Len() == 0 {
		logger.Warn("No cases registered, nothing will be checked.")
	}

	a.emitter = a.buildEmitter()
	logger.Debug("Registry populated.", "cases", reg.Len())
	return a
}

// loadDeclarations parses the HCL case declarations and binds each to its
// registered Go runner.
func (a *App) loadDeclarations(ctx context.Context) error {
	loader := caseconf.NewLoader()
	configs, err := loader.Load(ctx, a.cfg.CasesPath)
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		runnerName := cfg.Runner
		if runnerName == "" {
			runnerName = cfg.Name
		}
		fn, ok := a.reg.Runner(runnerName)
		if !ok {
			return fmt.Errorf("case %q declares runner %q but no such runner is registered",
				cfg.Name, runnerName)
		}
		c, err := cases.New(*cfg, fn)
		if err != nil {
			return err
		}
		if _, err := a.reg.Register(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// buildEmitter assembles the report fan-out. The log sink is always on;
// the topic sink only when reporting is enabled; archive and console per
// configuration.
func (a *App) buildEmitter() report.Emitter {
	sinks := report.Multi{report.NewLogEmitter(a.logger)}
	if a.cfg.SendReports {
		sinks = append(sinks, report.NewTopicEmitter(a.tr, a.cfg.ReportTopic))
	}
	if a.cfg.ConsoleReports {
		sinks = append(sinks, report.NewConsoleEmitter(a.outW))
	}
	if a.cfg.ArchivePath != "" {
		archive, err := report.OpenArchive(a.cfg.ArchivePath, a.retentionFor)
		if err != nil {
			panic(err)
		}
		a.archive = archive
		sinks = append(sinks, archive)
	}
	return sinks
}

// retentionFor resolves a case's history limit for the archive pruner.
func (a *App) retentionFor(caseName string) int {
	c, err := a.reg.Lookup(caseName)
	if err != nil {
		return 0
	}
	return c.Config().MaxHistory
}

// Registry exposes the registry, primarily for tests.
func (a *App) Registry() *registry.Registry { return a.reg }

// Transport exposes the injected transport, primarily for tests.
func (a *App) Transport() transport.Transport { return a.tr }
