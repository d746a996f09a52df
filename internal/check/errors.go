package check

import (
	"errors"
	"fmt"
)

// ErrUnknownCase marks a signal event or test execution referencing a case
// name that was never registered. This is deployment/configuration skew, not
// a per-message condition, and is never retried.
var ErrUnknownCase = errors.New("unknown case")

// ErrShutdown is returned to signal waiters released during process
// shutdown instead of leaving them to leak.
var ErrShutdown = errors.New("shutting down")

// ConfigurationError is a fatal misconfiguration detected at the point of
// use: a placeholder-named case with no configured origin, or a message
// transport that exposes no header list.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ConfigurationErrorf builds a ConfigurationError from a format string.
func ConfigurationErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// TestFailure is a domain-level failure inside a case body: a failed
// assertion, a signal wait that timed out, or a probe that exhausted its
// retries. It is recorded in the report for its execution and never
// propagates to other in-flight executions.
type TestFailure struct {
	Case    string
	Message string
	Timeout bool
	Cause   error
}

func (e *TestFailure) Error() string {
	if e.Case != "" {
		return fmt.Sprintf("test failed [%s]: %s", e.Case, e.Message)
	}
	return "test failed: " + e.Message
}

func (e *TestFailure) Unwrap() error { return e.Cause }

// Failf builds a plain TestFailure from a format string.
func Failf(format string, args ...any) error {
	return &TestFailure{Message: fmt.Sprintf(format, args...)}
}

// AsTestFailure reports whether err is (or wraps) a TestFailure.
func AsTestFailure(err error) (*TestFailure, bool) {
	var tf *TestFailure
	if errors.As(err, &tf) {
		return tf, true
	}
	return nil, false
}

// TransportError is a failed HTTP probe call, after the case's retry policy
// has been exhausted. The case body converts it into a TestFailure.
type TransportError struct {
	URL    string
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("probe %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("probe %s: %v", e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
