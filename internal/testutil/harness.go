// Package testutil provides the shared harness for engine tests: temp-dir
// HCL fixtures, a thread-safe log buffer, and app construction with panic
// capture.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/signalcheck/internal/app"
	"github.com/vk/signalcheck/internal/cases"
	"github.com/vk/signalcheck/internal/registry"
	"github.com/vk/signalcheck/internal/transport"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements io.Writer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements fmt.Stringer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcome of an engine construction attempt.
type HarnessResult struct {
	LogOutput func() string
	Err       error
	App       *app.App
	Transport *transport.Memory
}

// Options tweaks the harness defaults.
type Options struct {
	Origin      string
	SendReports bool
	ArchivePath string
	Transport   *transport.Memory
}

// NewEngine builds an App from in-memory HCL declaration files written to a
// temp dir, with an in-memory transport. A startup panic is captured into
// Err rather than failing the test, so misconfiguration paths are testable.
func NewEngine(t *testing.T, files map[string]string, opts Options, modules ...registry.Module) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	casesPath := ""
	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}
	if len(files) > 0 {
		casesPath = tmpDir
	}

	cfg, err := app.NewConfig(app.Config{
		CasesPath:   casesPath,
		Origin:      opts.Origin,
		LogFormat:   "text",
		LogLevel:    "debug",
		SendReports: opts.SendReports,
		ArchivePath: opts.ArchivePath,
	})
	require.NoError(t, err)

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewMemory(0)
	}
	t.Cleanup(func() { tr.Close() })

	logBuffer := &SafeBuffer{}
	result := &HarnessResult{LogOutput: logBuffer.String, Transport: tr}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("application startup panicked | %v", r)
			}
		}()
		result.App = app.NewApp(logBuffer, cfg, tr, modules...)
	}()

	return result
}

// Runners adapts a name-to-body map into a registry.Module so tests can
// contribute case runners without declaring a package.
type Runners map[string]cases.RunnerFunc

// Register implements registry.Module.
func (m Runners) Register(_ context.Context, r *registry.Registry) error {
	for name, fn := range m {
		r.RegisterRunner(name, fn)
	}
	return nil
}

// Pass is a runner body that immediately succeeds.
func Pass(context.Context, *cases.T) error { return nil }
