package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/transport"
)

func passedReport(caseName, testID string) *check.TestReport {
	return &check.TestReport{
		CaseName: caseName,
		Test:     &check.TestExecution{ID: testID, CaseName: caseName},
		Passed:   true,
		Runtime:  42 * time.Millisecond,
	}
}

func TestTopicEmitterPublishesKeyedJSON(t *testing.T) {
	m := transport.NewMemory(4)
	ctx := context.Background()

	ch, err := m.Subscribe(ctx, "signalcheck-report")
	require.NoError(t, err)

	e := NewTopicEmitter(m, "signalcheck-report")
	rep := passedReport("orders", "t1")
	require.NoError(t, e.Emit(ctx, rep))

	msg := <-ch
	assert.Equal(t, "t1", msg.Key)

	var decoded check.TestReport
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "orders", decoded.CaseName)
	assert.True(t, decoded.Passed)
}

func TestConsoleEmitterVerdicts(t *testing.T) {
	var buf bytes.Buffer
	e := NewConsoleEmitter(&buf)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, passedReport("orders", "t1")))
	require.NoError(t, e.Emit(ctx, &check.TestReport{
		CaseName: "payments",
		Test:     &check.TestExecution{ID: "t2"},
		Runtime:  time.Second,
		Error:    "no confirmation",
	}))
	require.NoError(t, e.Emit(ctx, &check.TestReport{
		CaseName: "shipments",
		Skipped:  true,
		Error:    "expired",
	}))

	out := buf.String()
	assert.Contains(t, out, "PASS orders")
	assert.Contains(t, out, "FAIL payments")
	assert.Contains(t, out, "no confirmation")
	assert.Contains(t, out, "SKIP shipments")
}

func TestLogEmitterLevels(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, passedReport("orders", "t1")))
	require.NoError(t, e.Emit(ctx, &check.TestReport{
		CaseName: "payments",
		Error:    "boom",
	}))

	out := buf.String()
	assert.Contains(t, out, "Test passed.")
	assert.Contains(t, out, "Test failed.")
	assert.Contains(t, out, "level=WARN")
}

type failingEmitter struct{ err error }

func (e failingEmitter) Emit(context.Context, *check.TestReport) error { return e.err }

func TestMultiFansOutAndReturnsFirstError(t *testing.T) {
	var buf bytes.Buffer
	boom := fmt.Errorf("sink down")
	m := Multi{
		failingEmitter{err: boom},
		NewConsoleEmitter(&buf),
	}

	err := m.Emit(context.Background(), passedReport("orders", "t1"))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "PASS orders", "later emitters still see the report")
}

func TestArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	a, err := OpenArchive(path, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Emit(ctx, passedReport("orders", "t1")))
	require.NoError(t, a.Emit(ctx, passedReport("orders", "t2")))

	n, err := a.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = a.Count(ctx, "payments")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchivePrunesPerCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	a, err := OpenArchive(path, func(name string) int {
		if name == "orders" {
			return 3
		}
		return 10
	})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, a.Emit(ctx, passedReport("orders", fmt.Sprintf("t%d", i))))
		require.NoError(t, a.Emit(ctx, passedReport("payments", fmt.Sprintf("p%d", i))))
	}

	n, err := a.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "orders history is bounded by its own limit")

	n, err = a.Count(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, 8, n, "payments stays under its larger limit")
}
