// Package registry holds the named case definitions for a single
// application instance and resolves inbound case names against them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vk/signalcheck/internal/cases"
	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/ctxlog"
)

// PlaceholderPrefix marks a case declared in a top-level invocation
// context. Such names are rewritten against the application's configured
// origin at registration and at dispatch.
const PlaceholderPrefix = "__main__."

// Module is implemented by Go packages that contribute runners or complete
// cases to the registry at startup.
type Module interface {
	Register(ctx context.Context, r *Registry) error
}

// Registry is read-mostly after startup: cases register once, then the two
// dispatcher pools look them up per message.
type Registry struct {
	mu      sync.RWMutex
	origin  string
	cases   map[string]*cases.Case
	runners map[string]cases.RunnerFunc
}

// New creates a registry. origin is the application's configured origin
// path used to rewrite placeholder-declared case names; empty means
// placeholder names are rejected.
func New(origin string) *Registry {
	return &Registry{
		origin:  origin,
		cases:   make(map[string]*cases.Case),
		runners: make(map[string]cases.RunnerFunc),
	}
}

// RegisterRunner binds a Go case body to a name so declarations can refer
// to it.
func (r *Registry) RegisterRunner(name string, fn cases.RunnerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[name] = fn
}

// Runner returns the Go case body registered under name.
func (r *Registry) Runner(name string) (cases.RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.runners[name]
	return fn, ok
}

// Register stores the case under its resolved name and assigns its signal
// indices from declaration order, first declared = 1. Registering a name
// twice silently replaces the earlier definition; the replacement is logged
// at warn so a deployment that does this unintentionally leaves a trace.
func (r *Registry) Register(ctx context.Context, c *cases.Case) (*cases.Case, error) {
	name, err := r.ResolveName(c.Name())
	if err != nil {
		return nil, err
	}
	c.Rename(name)

	for i, s := range c.Signals() {
		s.Index = i + 1
	}

	r.mu.Lock()
	_, replaced := r.cases[name]
	r.cases[name] = c
	r.mu.Unlock()

	if replaced {
		ctxlog.FromContext(ctx).Warn("Case re-registered, previous definition replaced.",
			"case", name)
	}
	return c, nil
}

// Lookup returns the case registered under name. An unknown name is
// registry/deployment skew: the error wraps ErrUnknownCase and is fatal for
// the path that hit it, never retried.
func (r *Registry) Lookup(name string) (*cases.Case, error) {
	r.mu.RLock()
	c, ok := r.cases[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", check.ErrUnknownCase, name)
	}
	return c, nil
}

// ResolveName rewrites a placeholder-declared name using the configured
// origin. Names without the placeholder prefix pass through unchanged. A
// placeholder name with no configured origin is a ConfigurationError.
func (r *Registry) ResolveName(name string) (string, error) {
	if !strings.HasPrefix(name, PlaceholderPrefix) {
		return name, nil
	}
	if r.origin == "" {
		return "", check.ConfigurationErrorf(
			"case %q declared under %s but no origin is configured", name, PlaceholderPrefix)
	}
	return r.origin + strings.TrimPrefix(name, "__main__"), nil
}

// Cases returns every registered case, sorted by name.
func (r *Registry) Cases() []*cases.Case {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*cases.Case, 0, len(r.cases))
	for _, c := range r.cases {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of registered cases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cases)
}

// Shutdown releases every case's outstanding waiters.
func (r *Registry) Shutdown() {
	for _, c := range r.Cases() {
		c.Shutdown()
	}
}
