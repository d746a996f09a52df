// Package cli parses command-line arguments into an app.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/signalcheck/internal/app"
	"github.com/vk/signalcheck/internal/dispatch"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a validated Config, a
// boolean indicating the program should exit cleanly (help shown), or an
// ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("signalcheck", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
signalcheck - live integration checks for message-driven pipelines.

Usage:
  signalcheck [options] [CASES_PATH]

Arguments:
  CASES_PATH
    Path to a .hcl case declaration file, a directory of them, or a glob
    (e.g. 'checks/**/*.hcl').

Options:
`)
		flagSet.PrintDefaults()
	}

	casesFlag := flagSet.String("cases", "", "Path to case declarations.")
	cFlag := flagSet.String("c", "", "Path to case declarations (shorthand).")
	originFlag := flagSet.String("origin", "", "Origin path used to rewrite placeholder case names.")
	busConcFlag := flagSet.Int("bus-concurrency", dispatch.DefaultBusConcurrency, "Workers consuming the signal bus.")
	testConcFlag := flagSet.Int("test-concurrency", dispatch.DefaultTestConcurrency, "Workers executing test cases.")
	reportsFlag := flagSet.Bool("reports", true, "Publish test reports on the report topic.")
	consoleFlag := flagSet.Bool("console", false, "Echo a colored verdict line per report.")
	archiveFlag := flagSet.String("archive", "", "Path to a SQLite report archive. Empty disables archiving.")
	testTopicFlag := flagSet.String("test-topic", app.DefaultTestTopic, "Pending-tests topic name.")
	busTopicFlag := flagSet.String("bus-topic", app.DefaultBusTopic, "Signal bus topic name.")
	reportTopicFlag := flagSet.String("report-topic", app.DefaultReportTopic, "Report topic name.")
	opsPortFlag := flagSet.Int("ops-port", 0, "Port for the ops HTTP server (health, metrics, trigger). 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *casesFlag != "" {
		path = *casesFlag
	} else if *cFlag != "" {
		path = *cFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		CasesPath:       path,
		Origin:          *originFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		BusConcurrency:  *busConcFlag,
		TestConcurrency: *testConcFlag,
		SendReports:     *reportsFlag,
		ConsoleReports:  *consoleFlag,
		ArchivePath:     *archiveFlag,
		TestTopic:       *testTopicFlag,
		BusTopic:        *busTopicFlag,
		ReportTopic:     *reportTopicFlag,
		OpsPort:         *opsPortFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}
