// Package execctx threads the identity of the currently active test
// execution through asynchronous processing paths.
//
// The original design relied on task-local state; here the carrier is an
// explicit Stack value installed into the context.Context that flows down a
// processing path. A path is one consumer dispatch or one case-body run:
// stacks are created per path and never shared across concurrent paths, but
// Push and Pop are explicit because instrumentation boundaries (message in,
// message out) are not lexically nested. Every Push owns a matching Pop,
// including on failure.
package execctx

import (
	"context"
	"sync"

	"github.com/vk/signalcheck/internal/check"
	"github.com/vk/signalcheck/internal/transport"
)

type key struct{}

var stackKey = key{}

// Stack holds the active TestExecutions of one processing path. Depth is
// normally 0 or 1; nesting only occurs when a test is dispatched while
// another is already active on the same path.
type Stack struct {
	mu    sync.Mutex
	items []*check.TestExecution
}

// NewStack returns an empty execution stack.
func NewStack() *Stack { return &Stack{} }

// Push installs test as the active execution on this path. There is no
// automatic cleanup: the caller owns the matching Pop.
func (s *Stack) Push(test *check.TestExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, test)
}

// Pop clears the most recently pushed execution. Popping an empty stack is
// a no-op so that instrumentation exits stay safe on paths that never saw a
// test.
func (s *Stack) Pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.items); n > 0 {
		s.items = s.items[:n-1]
	}
}

// Current returns the active execution, or nil.
func (s *Stack) Current() *check.TestExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.items); n > 0 {
		return s.items[n-1]
	}
	return nil
}

// Depth returns the number of active executions on this path.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// WithStack returns a context carrying the given stack.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey, s)
}

// StackFrom extracts the path's stack, or nil when the path carries none.
func StackFrom(ctx context.Context) *Stack {
	if s, ok := ctx.Value(stackKey).(*Stack); ok {
		return s
	}
	return nil
}

// Current returns the active execution on the context's path, or nil.
func Current(ctx context.Context) *check.TestExecution {
	if s := StackFrom(ctx); s != nil {
		return s.Current()
	}
	return nil
}

// AttachHeaders appends the active execution's identity to the outbound
// message's header list. With no active execution it does nothing. With an
// active execution and a transport that exposes no header list it fails
// with a ConfigurationError: such a transport cannot carry test identity at
// all, which is deployment misconfiguration, not a per-message condition.
func AttachHeaders(ctx context.Context, tr transport.Transport, msg *transport.Message) error {
	test := Current(ctx)
	if test == nil {
		return nil
	}
	if !tr.SupportsHeaders() {
		return check.ConfigurationErrorf(
			"transport %T has no header list, cannot attach test %s", tr, test.ShortID())
	}
	for k, v := range test.AsHeaders() {
		msg.Headers = append(msg.Headers, transport.Header{Key: k, Value: []byte(v)})
	}
	return nil
}

// ConsumeScope is the instrumentation hook for a pipeline entry point. When
// the inbound message's headers carry a test identity, it pushes that test
// onto the path's stack and returns the exit func that pops it; the exit
// must run after user processing, success or failure. With no test identity
// (or no stack on the path) the returned exit is a no-op.
func ConsumeScope(ctx context.Context, msg *transport.Message) (func(), error) {
	stack := StackFrom(ctx)
	if stack == nil {
		return func() {}, nil
	}
	test, err := check.TestFromHeaders(msg.HeaderMap())
	if err != nil {
		return func() {}, err
	}
	if test == nil {
		return func() {}, nil
	}
	stack.Push(test)
	return stack.Pop, nil
}
