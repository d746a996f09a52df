package app

import "errors"

// Default topic names for the three channels.
const (
	DefaultTestTopic   = "signalcheck"
	DefaultBusTopic    = "signalcheck-bus"
	DefaultReportTopic = "signalcheck-report"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// CasesPath locates case declaration files: a file, a directory, or a
	// doublestar glob. Empty is allowed when all cases are registered from
	// Go modules.
	CasesPath string

	// Origin rewrites placeholder-declared case names. Empty means such
	// names are rejected at registration.
	Origin string

	LogFormat string
	LogLevel  string

	BusConcurrency  int
	TestConcurrency int

	// SendReports enables publishing TestReports on the report topic.
	SendReports bool
	// ConsoleReports echoes a colored verdict line per report to the
	// App's writer.
	ConsoleReports bool
	// ArchivePath enables the SQLite report archive when non-empty.
	ArchivePath string

	TestTopic   string
	BusTopic    string
	ReportTopic string

	// OpsPort serves /health, /metrics and /trigger. 0 disables the
	// server.
	OpsPort int
}

// NewConfig validates and normalizes a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.BusConcurrency < 0 || cfg.TestConcurrency < 0 {
		return nil, errors.New("concurrency values must not be negative")
	}
	if cfg.TestTopic == "" {
		cfg.TestTopic = DefaultTestTopic
	}
	if cfg.BusTopic == "" {
		cfg.BusTopic = DefaultBusTopic
	}
	if cfg.ReportTopic == "" {
		cfg.ReportTopic = DefaultReportTopic
	}
	return &cfg, nil
}
