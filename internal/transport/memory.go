package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is a channel-backed Transport for tests and single-process runs.
// Each topic is one buffered channel, so per-key ordering falls out of
// production order.
type Memory struct {
	mu      sync.Mutex
	buffer  int
	topics  map[string]chan *Message
	headers bool
	closed  bool
}

// MemoryOption adjusts a Memory transport at construction.
type MemoryOption func(*Memory)

// WithoutHeaders builds a transport whose messages carry no header list.
// Used to exercise the configuration-error path for header attachment.
func WithoutHeaders() MemoryOption {
	return func(m *Memory) { m.headers = false }
}

// NewMemory creates an in-memory transport whose topic channels buffer up
// to buffer messages each.
func NewMemory(buffer int, opts ...MemoryOption) *Memory {
	if buffer <= 0 {
		buffer = 1024
	}
	m := &Memory{
		buffer:  buffer,
		topics:  make(map[string]chan *Message),
		headers: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) topic(name string) chan *Message {
	if ch, ok := m.topics[name]; ok {
		return ch
	}
	ch := make(chan *Message, m.buffer)
	m.topics[name] = ch
	return ch
}

// Produce implements Producer. It blocks when the topic buffer is full.
func (m *Memory) Produce(ctx context.Context, msg *Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if !m.headers {
		msg.Headers = nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("produce to %q: transport closed", msg.Topic)
	}
	ch := m.topic(msg.Topic)
	m.mu.Unlock()

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe implements Transport.
func (m *Memory) Subscribe(_ context.Context, topic string) (<-chan *Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("subscribe to %q: transport closed", topic)
	}
	return m.topic(topic), nil
}

// SupportsHeaders implements Transport.
func (m *Memory) SupportsHeaders() bool { return m.headers }

// Close closes every topic channel. Produce after Close returns an error.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.topics {
		close(ch)
	}
	return nil
}
