// Package cases defines the Case type: a named integration-test scenario
// composed from a configuration value and a user-supplied runner function.
// Composition replaces the class-synthesis registration style of older
// check frameworks; there is no reflection over declared fields and no
// inheritance.
package cases

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/probe"
	"github.com/vk/signalcheck/internal/resolver"
)

// RunnerFunc is the body of a case. It runs once per TestExecution, waits
// on the case's declared signals through t, and returns a TestFailure (or
// any error) to fail the execution.
type RunnerFunc func(ctx context.Context, t *T) error

// Case is one registered scenario. Created once at registration, mutated
// only by configuration at construction, and alive for the process
// lifetime.
type Case struct {
	cfg     check.CaseConfig
	signals []*check.Signal
	byName  map[string]*check.Signal
	runner  RunnerFunc
	res     *resolver.Resolver
	probe   *probe.Client

	mu                  sync.Mutex
	lastReceived        time.Time
	consecutiveFailures int
	totalPassed         int
	totalFailed         int
}

// New composes a case from its configuration and runner. Signal indices
// stay zero until the registry assigns them at registration.
func New(cfg check.CaseConfig, runner RunnerFunc) (*Case, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("case config missing name")
	}
	if runner == nil {
		return nil, fmt.Errorf("case %q has no runner", cfg.Name)
	}
	cfg.ApplyDefaults()

	c := &Case{
		cfg:    cfg,
		byName: make(map[string]*check.Signal, len(cfg.Signals)),
		runner: runner,
		res:    resolver.New(cfg.Name, cfg.MaxHistory),
		probe:  probe.New(cfg.Probe),
	}
	for _, name := range cfg.Signals {
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("case %q declares signal %q twice", cfg.Name, name)
		}
		s := &check.Signal{Name: name}
		c.signals = append(c.signals, s)
		c.byName[name] = s
	}
	return c, nil
}

// Name returns the case's registered name.
func (c *Case) Name() string { return c.cfg.Name }

// Rename is used by the registry when a placeholder-declared name is
// rewritten against the application origin.
func (c *Case) Rename(name string) { c.cfg.Name = name }

// Config returns a copy of the case configuration.
func (c *Case) Config() check.CaseConfig { return c.cfg }

// Active reports whether the case participates in periodic triggering.
func (c *Case) Active() bool { return c.cfg.Active }

// Signals returns the declared signals in declaration order.
func (c *Case) Signals() []*check.Signal { return c.signals }

// Resolver returns the case's correlation engine.
func (c *Case) Resolver() *resolver.Resolver { return c.res }

// Sample draws against the case's sampling probability.
func (c *Case) Sample() bool {
	return rand.Float64() < c.cfg.Probability
}

// Execute runs the case body for one test execution and returns its
// report. A TestFailure from the runner marks the report failed; it never
// escapes to the caller. Any other runner error is also captured in the
// report, keeping failures isolated per execution.
func (c *Case) Execute(ctx context.Context, test *check.TestExecution) *check.TestReport {
	started := time.Now()
	t := &T{c: c, test: test}
	err := c.runner(ctx, t)

	rep := &check.TestReport{
		CaseName: c.cfg.Name,
		Test:     test,
		Signals:  t.outcomes(),
		Passed:   err == nil,
		Runtime:  time.Since(started),
	}
	if err != nil {
		rep.Error = err.Error()
	}
	c.record(rep)
	return rep
}

// SkipReport builds the report for an execution that expired before it
// could run.
func (c *Case) SkipReport(test *check.TestExecution, reason string) *check.TestReport {
	return &check.TestReport{
		CaseName: c.cfg.Name,
		Test:     test,
		Skipped:  true,
		Error:    reason,
	}
}

// MarkReceived notes that a test for this case reached the dispatcher,
// clearing any stall condition.
func (c *Case) MarkReceived(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at.After(c.lastReceived) {
		c.lastReceived = at
	}
}

func (c *Case) record(rep *check.TestReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rep.Passed {
		c.totalPassed++
		c.consecutiveFailures = 0
	} else if !rep.Skipped {
		c.totalFailed++
		c.consecutiveFailures++
	}
}

// Status is a point-in-time health snapshot of the case.
type Status struct {
	Name                string    `json:"name"`
	Active              bool      `json:"active"`
	Passed              int       `json:"passed"`
	Failed              int       `json:"failed"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Unhealthy           bool      `json:"unhealthy"`
	Stalled             bool      `json:"stalled"`
	LastReceived        time.Time `json:"last_received,omitzero"`
	PendingWaits        int       `json:"pending_waits"`
	CachedEvents        int       `json:"cached_events"`
}

// Status reports the case's health as of now.
func (c *Case) Status(now time.Time) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	stalled := !c.lastReceived.IsZero() &&
		now.Sub(c.lastReceived) > c.cfg.WarnStalledAfter
	return Status{
		Name:                c.cfg.Name,
		Active:              c.cfg.Active,
		Passed:              c.totalPassed,
		Failed:              c.totalFailed,
		ConsecutiveFailures: c.consecutiveFailures,
		Unhealthy:           c.consecutiveFailures >= c.cfg.MaxConsecutiveFailures,
		Stalled:             stalled,
		LastReceived:        c.lastReceived,
		PendingWaits:        c.res.Pending(),
		CachedEvents:        c.res.Cached(),
	}
}

// Shutdown releases any outstanding signal waiters.
func (c *Case) Shutdown() {
	c.res.Shutdown()
	_ = c.probe.Close()
}
