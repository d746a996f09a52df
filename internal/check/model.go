// Package check holds the data model shared by every signalcheck component:
// case configuration, signal declarations, the messages that travel over the
// bus and test topics, and the error taxonomy.
package check

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Header keys used to thread the active test's identity through outbound
// message headers.
const (
	HeaderTestID        = "Signalcheck-Test-Id"
	HeaderCaseName      = "Signalcheck-Case-Name"
	HeaderTestTimestamp = "Signalcheck-Test-Timestamp"
	HeaderTestExpires   = "Signalcheck-Test-Expires"
)

// Signal is a named checkpoint a case can wait on. The index is assigned by
// the registry from declaration order, starting at 1.
type Signal struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// SignalEvent is an observed occurrence of a signal somewhere in the
// pipeline. It exists only until a waiter resolves it or the retention
// cache evicts it.
type SignalEvent struct {
	TestID     string    `json:"test_id"`
	CaseName   string    `json:"case_name"`
	SignalName string    `json:"signal_name"`
	Key        string    `json:"key"`
	Value      string    `json:"value,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TestExecution is one run instance of a case. It is consumed logically
// exactly once by the test dispatcher.
type TestExecution struct {
	ID       string    `json:"id"`
	CaseName string    `json:"case_name"`
	Created  time.Time `json:"created"`
	Expires  time.Time `json:"expires"`
}

// NewTestExecution mints an execution for the named case with a fresh
// unique id.
func NewTestExecution(caseName string, expires time.Duration) *TestExecution {
	now := time.Now().UTC()
	t := &TestExecution{
		ID:       uuid.NewString(),
		CaseName: caseName,
		Created:  now,
	}
	if expires > 0 {
		t.Expires = now.Add(expires)
	}
	return t
}

// IsExpired reports whether the execution's expiry deadline has passed.
func (t *TestExecution) IsExpired(now time.Time) bool {
	return !t.Expires.IsZero() && now.After(t.Expires)
}

// ShortID returns an abbreviated id for log lines.
func (t *TestExecution) ShortID() string {
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}

// AsHeaders serializes the execution's identity for attachment to an
// outbound message's header list.
func (t *TestExecution) AsHeaders() map[string]string {
	h := map[string]string{
		HeaderTestID:        t.ID,
		HeaderCaseName:      t.CaseName,
		HeaderTestTimestamp: t.Created.Format(time.RFC3339Nano),
	}
	if !t.Expires.IsZero() {
		h[HeaderTestExpires] = t.Expires.Format(time.RFC3339Nano)
	}
	return h
}

// TestFromHeaders reconstructs a TestExecution from inbound message headers.
// It returns nil when the headers carry no test identity, and an error when
// they carry one that cannot be decoded.
func TestFromHeaders(h map[string]string) (*TestExecution, error) {
	id, ok := h[HeaderTestID]
	if !ok || id == "" {
		return nil, nil
	}
	t := &TestExecution{ID: id, CaseName: h[HeaderCaseName]}
	if raw := h[HeaderTestTimestamp]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("bad %s header: %w", HeaderTestTimestamp, err)
		}
		t.Created = ts
	}
	if raw := h[HeaderTestExpires]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("bad %s header: %w", HeaderTestExpires, err)
		}
		t.Expires = ts
	}
	return t, nil
}

// SignalOutcome is the per-signal slice of a report: whether the wait
// resolved, how long it took, and the error text when it did not.
type SignalOutcome struct {
	Name     string        `json:"name"`
	Index    int           `json:"index"`
	Resolved bool          `json:"resolved"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
}

// TestReport is the terminal record of one execution, published once on the
// report topic keyed by the test id.
type TestReport struct {
	CaseName string          `json:"case_name"`
	Test     *TestExecution  `json:"test,omitempty"`
	Signals  []SignalOutcome `json:"signals,omitempty"`
	Passed   bool            `json:"passed"`
	Skipped  bool            `json:"skipped"`
	Runtime  time.Duration   `json:"runtime"`
	Error    string          `json:"error,omitempty"`
}

// Key returns the partition key for publishing the report: the originating
// test id, or empty when the report has no test reference.
func (r *TestReport) Key() string {
	if r.Test != nil {
		return r.Test.ID
	}
	return ""
}
