package caseconf

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/ctxlog"
	"github.com/vk/signalcheck/internal/fsutil"
)

// Loader parses HCL case declarations.
type Loader struct {
	parser  *hclparse.Parser
	evalCtx *hcl.EvalContext
}

// NewLoader creates a Loader. Declarations may reference process
// environment variables as `env.NAME`.
func NewLoader() *Loader {
	return &Loader{
		parser:  hclparse.NewParser(),
		evalCtx: newEvalContext(os.Environ()),
	}
}

// newEvalContext exposes the environment as a cty object under `env`.
func newEvalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

// Load resolves path (file, directory, or glob) and parses every
// declaration file found, returning the configs in file-then-declaration
// order.
func (l *Loader) Load(ctx context.Context, path string) ([]*check.CaseConfig, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.FindDeclarations(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no case declarations found at %q", path)
	}
	logger.Debug("Found case declaration files.", "count", len(files), "path", path)

	var configs []*check.CaseConfig
	for _, file := range files {
		fileConfigs, err := l.loadFile(file)
		if err != nil {
			return nil, err
		}
		configs = append(configs, fileConfigs...)
	}
	logger.Debug("Case declarations loaded.", "cases", len(configs))
	return configs, nil
}

// LoadBytes parses declarations from an in-memory buffer. Used by the test
// harness.
func (l *Loader) LoadBytes(filename string, src []byte) ([]*check.CaseConfig, error) {
	hclFile, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", filename, diags)
	}
	return l.translateFile(filename, hclFile.Body)
}

func (l *Loader) loadFile(path string) ([]*check.CaseConfig, error) {
	hclFile, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", path, diags)
	}
	return l.translateFile(path, hclFile.Body)
}

func (l *Loader) translateFile(path string, body hcl.Body) ([]*check.CaseConfig, error) {
	var file fileSchema
	if diags := gohcl.DecodeBody(body, l.evalCtx, &file); diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %w", path, diags)
	}

	configs := make([]*check.CaseConfig, 0, len(file.Cases))
	for _, block := range file.Cases {
		cfg, err := translateCase(block)
		if err != nil {
			return nil, fmt.Errorf("%s: case %q: %w", path, block.Name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// translateCase converts a decoded case block into the model, applying the
// declaration-surface defaults for absent options.
func translateCase(block *caseBlock) (*check.CaseConfig, error) {
	cfg := &check.CaseConfig{
		Name:        block.Name,
		Active:      true,
		Probability: check.DefaultProbability,
	}

	if block.Active != nil {
		cfg.Active = *block.Active
	}
	if block.Probability != nil {
		p := *block.Probability
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("probability %v out of range [0, 1]", p)
		}
		cfg.Probability = p
	}

	var err error
	if cfg.WarnStalledAfter, err = duration(block.WarnStalledAfter, "warn_stalled_after"); err != nil {
		return nil, err
	}
	if cfg.TestExpires, err = duration(block.TestExpires, "test_expires"); err != nil {
		return nil, err
	}
	if cfg.Frequency, err = duration(block.Frequency, "frequency"); err != nil {
		return nil, err
	}
	if cfg.Probe.TimeoutTotal, err = duration(block.URLTimeoutTotal, "url_timeout_total"); err != nil {
		return nil, err
	}
	if cfg.Probe.TimeoutConnect, err = duration(block.URLTimeoutConnect, "url_timeout_connect"); err != nil {
		return nil, err
	}
	if cfg.Probe.DelayMin, err = duration(block.URLErrorDelayMin, "url_error_delay_min"); err != nil {
		return nil, err
	}
	if cfg.Probe.DelayMax, err = duration(block.URLErrorDelayMax, "url_error_delay_max"); err != nil {
		return nil, err
	}

	if block.MaxHistory != nil {
		cfg.MaxHistory = *block.MaxHistory
	}
	if block.MaxConsecutiveFailures != nil {
		cfg.MaxConsecutiveFailures = *block.MaxConsecutiveFailures
	}
	if block.URLErrorRetries != nil {
		cfg.Probe.Retries = *block.URLErrorRetries
	}
	if block.URLErrorBackoff != nil {
		cfg.Probe.Backoff = *block.URLErrorBackoff
	}
	if block.Runner != nil {
		cfg.Runner = *block.Runner
	}

	seen := make(map[string]bool, len(block.Signals))
	for _, s := range block.Signals {
		if seen[s.Name] {
			return nil, fmt.Errorf("signal %q declared twice", s.Name)
		}
		seen[s.Name] = true
		cfg.Signals = append(cfg.Signals, s.Name)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func duration(raw *string, attr string) (time.Duration, error) {
	if raw == nil || *raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", attr, *raw, err)
	}
	return d, nil
}
