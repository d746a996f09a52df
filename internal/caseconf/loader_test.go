package caseconf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/signalcheck/internal/check"
)

const fullDeclaration = `
case "orders" {
  probability              = 0.25
  active                   = true
  warn_stalled_after       = "10m"
  test_expires             = "1h"
  frequency                = "5m"
  max_history              = 50
  max_consecutive_failures = 5
  url_timeout_total        = "30s"
  url_timeout_connect      = "2s"
  url_error_retries        = 4
  url_error_delay_min      = "250ms"
  url_error_delay_backoff  = 2.0
  url_error_delay_max      = "4s"
  runner                   = "orders_flow"

  signal "persisted" {}
  signal "notified" {}
}
`

func TestLoadBytesFullDeclaration(t *testing.T) {
	configs, err := NewLoader().LoadBytes("orders.hcl", []byte(fullDeclaration))
	require.NoError(t, err)
	require.Len(t, configs, 1)

	cfg := configs[0]
	assert.Equal(t, "orders", cfg.Name)
	assert.True(t, cfg.Active)
	assert.Equal(t, 0.25, cfg.Probability)
	assert.Equal(t, 10*time.Minute, cfg.WarnStalledAfter)
	assert.Equal(t, time.Hour, cfg.TestExpires)
	assert.Equal(t, 5*time.Minute, cfg.Frequency)
	assert.Equal(t, 50, cfg.MaxHistory)
	assert.Equal(t, 5, cfg.MaxConsecutiveFailures)
	assert.Equal(t, 30*time.Second, cfg.Probe.TimeoutTotal)
	assert.Equal(t, 2*time.Second, cfg.Probe.TimeoutConnect)
	assert.Equal(t, 4, cfg.Probe.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.DelayMin)
	assert.Equal(t, 2.0, cfg.Probe.Backoff)
	assert.Equal(t, 4*time.Second, cfg.Probe.DelayMax)
	assert.Equal(t, "orders_flow", cfg.Runner)
	assert.Equal(t, []string{"persisted", "notified"}, cfg.Signals)
}

func TestLoadBytesAppliesDefaults(t *testing.T) {
	configs, err := NewLoader().LoadBytes("minimal.hcl", []byte(`
case "minimal" {
  signal "done" {}
}
`))
	require.NoError(t, err)
	require.Len(t, configs, 1)

	cfg := configs[0]
	assert.True(t, cfg.Active, "active defaults to true")
	assert.Equal(t, check.DefaultProbability, cfg.Probability)
	assert.Equal(t, check.DefaultWarnStalledAfter, cfg.WarnStalledAfter)
	assert.Equal(t, check.DefaultTestExpires, cfg.TestExpires)
	assert.Zero(t, cfg.Frequency, "no periodic trigger unless declared")
	assert.Equal(t, check.DefaultMaxHistory, cfg.MaxHistory)
	assert.Equal(t, check.DefaultMaxConsecutiveFailures, cfg.MaxConsecutiveFailures)
	assert.Equal(t, check.DefaultProbeTimeoutTotal, cfg.Probe.TimeoutTotal)
	assert.Equal(t, check.DefaultProbeRetries, cfg.Probe.Retries)
	assert.Equal(t, check.DefaultProbeDelayMin, cfg.Probe.DelayMin)
	assert.Equal(t, check.DefaultProbeBackoff, cfg.Probe.Backoff)
	assert.Equal(t, check.DefaultProbeDelayMax, cfg.Probe.DelayMax)
}

func TestLoadBytesRejectsBadDuration(t *testing.T) {
	_, err := NewLoader().LoadBytes("bad.hcl", []byte(`
case "bad" {
  test_expires = "three hours"
}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_expires")
}

func TestLoadBytesRejectsOutOfRangeProbability(t *testing.T) {
	_, err := NewLoader().LoadBytes("bad.hcl", []byte(`
case "bad" {
  probability = 1.5
}
`))
	assert.Error(t, err)
}

func TestLoadBytesRejectsDuplicateSignal(t *testing.T) {
	_, err := NewLoader().LoadBytes("dup.hcl", []byte(`
case "dup" {
  signal "persisted" {}
  signal "persisted" {}
}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisted")
}

func TestLoadBytesResolvesEnvVariables(t *testing.T) {
	t.Setenv("ORDERS_RUNNER", "orders_flow")

	configs, err := NewLoader().LoadBytes("env.hcl", []byte(`
case "orders" {
  runner = env.ORDERS_RUNNER
}
`))
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "orders_flow", configs[0].Runner)
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"),
		[]byte(`case "alpha" {}`), 0o644))
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.hcl"),
		[]byte(`case "beta" {}`), 0o644))

	configs, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "alpha", configs[0].Name)
	assert.Equal(t, "beta", configs[1].Name)
}

func TestLoadMissingPath(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
