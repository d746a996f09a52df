// Package report turns finished executions into published TestReports.
// Emitters are pluggable sinks: the report topic, the log, the console, a
// SQLite archive, or any fan-out of those.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/transport"
)

// Emitter publishes one report. Implementations must be safe for
// concurrent use: reports arrive from every test worker.
type Emitter interface {
	Emit(ctx context.Context, rep *check.TestReport) error
}

// TopicEmitter publishes reports as JSON on the report topic, keyed by the
// originating test id.
type TopicEmitter struct {
	producer transport.Producer
	topic    string
}

// NewTopicEmitter creates the transport-backed emitter.
func NewTopicEmitter(producer transport.Producer, topic string) *TopicEmitter {
	return &TopicEmitter{producer: producer, topic: topic}
}

// Emit implements Emitter.
func (e *TopicEmitter) Emit(ctx context.Context, rep *check.TestReport) error {
	value, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report for case %q: %w", rep.CaseName, err)
	}
	return e.producer.Produce(ctx, &transport.Message{
		Topic: e.topic,
		Key:   rep.Key(),
		Value: value,
	})
}

// LogEmitter writes a structured log line per report.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(_ context.Context, rep *check.TestReport) error {
	attrs := []any{
		"case", rep.CaseName,
		"passed", rep.Passed,
		"runtime", rep.Runtime,
	}
	if rep.Test != nil {
		attrs = append(attrs, "testID", rep.Test.ShortID())
	}
	switch {
	case rep.Skipped:
		e.logger.Info("Test skipped.", append(attrs, "reason", rep.Error)...)
	case rep.Passed:
		e.logger.Info("Test passed.", attrs...)
	default:
		e.logger.Warn("Test failed.", append(attrs, "error", rep.Error)...)
	}
	return nil
}

// ConsoleEmitter prints a one-line colored verdict per report, for local
// runs.
type ConsoleEmitter struct {
	w    io.Writer
	pass *color.Color
	fail *color.Color
	skip *color.Color
}

// NewConsoleEmitter creates a console emitter writing to w.
func NewConsoleEmitter(w io.Writer) *ConsoleEmitter {
	return &ConsoleEmitter{
		w:    w,
		pass: color.New(color.FgGreen),
		fail: color.New(color.FgRed, color.Bold),
		skip: color.New(color.FgYellow),
	}
}

// Emit implements Emitter.
func (e *ConsoleEmitter) Emit(_ context.Context, rep *check.TestReport) error {
	id := "-"
	if rep.Test != nil {
		id = rep.Test.ShortID()
	}
	var err error
	switch {
	case rep.Skipped:
		_, err = e.skip.Fprintf(e.w, "SKIP %s %s (%s)\n", rep.CaseName, id, rep.Error)
	case rep.Passed:
		_, err = e.pass.Fprintf(e.w, "PASS %s %s in %s\n", rep.CaseName, id, rep.Runtime)
	default:
		_, err = e.fail.Fprintf(e.w, "FAIL %s %s in %s: %s\n", rep.CaseName, id, rep.Runtime, rep.Error)
	}
	return err
}

// Multi fans a report out to several emitters. The first error wins but
// every emitter still sees the report.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, rep *check.TestReport) error {
	var first error
	for _, e := range m {
		if err := e.Emit(ctx, rep); err != nil && first == nil {
			first = err
		}
	}
	return first
}
