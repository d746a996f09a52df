package check

import "time"

// Defaults applied by ApplyDefaults when a declaration leaves an option
// unset.
const (
	DefaultProbability            = 0.5
	DefaultWarnStalledAfter       = 30 * time.Minute
	DefaultTestExpires            = 3 * time.Hour
	DefaultMaxHistory             = 100
	DefaultMaxConsecutiveFailures = 30
	DefaultProbeTimeoutTotal      = 5 * time.Minute
	DefaultProbeRetries           = 10
	DefaultProbeDelayMin          = 500 * time.Millisecond
	DefaultProbeBackoff           = 1.5
	DefaultProbeDelayMax          = 5 * time.Second
)

// ProbeConfig governs the HTTP probe client of a single case.
type ProbeConfig struct {
	TimeoutTotal   time.Duration
	TimeoutConnect time.Duration
	Retries        int
	DelayMin       time.Duration
	Backoff        float64
	DelayMax       time.Duration
}

// CaseConfig is the registered shape of a case declaration: its options plus
// the ordered signal list. Indices are assigned by the registry, not here.
type CaseConfig struct {
	Name        string
	Active      bool
	Probability float64

	WarnStalledAfter time.Duration
	TestExpires      time.Duration
	Frequency        time.Duration

	MaxHistory             int
	MaxConsecutiveFailures int

	Probe ProbeConfig

	// Signals in declaration order. First declared gets index 1.
	Signals []string

	// Runner names the registered Go handler implementing the case body.
	// Empty means the handler registered under the case name itself.
	Runner string
}

// ApplyDefaults fills unset options in place and returns the config for
// chaining. Active and Probability are left alone: false and 0 are
// meaningful values there, so absent-vs-zero is decided by the declaration
// loader instead.
func (c *CaseConfig) ApplyDefaults() *CaseConfig {
	if c.WarnStalledAfter == 0 {
		c.WarnStalledAfter = DefaultWarnStalledAfter
	}
	if c.TestExpires == 0 {
		c.TestExpires = DefaultTestExpires
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Probe.TimeoutTotal == 0 {
		c.Probe.TimeoutTotal = DefaultProbeTimeoutTotal
	}
	if c.Probe.Retries == 0 {
		c.Probe.Retries = DefaultProbeRetries
	}
	if c.Probe.DelayMin == 0 {
		c.Probe.DelayMin = DefaultProbeDelayMin
	}
	if c.Probe.Backoff == 0 {
		c.Probe.Backoff = DefaultProbeBackoff
	}
	if c.Probe.DelayMax == 0 {
		c.Probe.DelayMax = DefaultProbeDelayMax
	}
	return c
}
