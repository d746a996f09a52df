// Package transport abstracts the message layer the checks run against. The
// engine takes a Transport as a constructor argument; delivery guarantees
// and partitioning belong to the implementation, not to this package.
package transport

import (
	"context"
	"time"
)

// Header is one entry of a message's header list.
type Header struct {
	Key   string
	Value []byte
}

// Message is the unit carried by every topic: pending tests, the signal
// bus, and reports. Key is the partition key (the test id for all three
// built-in topics).
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   []Header
	Timestamp time.Time
}

// HeaderMap flattens the header list into a map for lookup. Later entries
// win on duplicate keys, matching append semantics on the producer side.
func (m *Message) HeaderMap() map[string]string {
	if len(m.Headers) == 0 {
		return nil
	}
	h := make(map[string]string, len(m.Headers))
	for _, hd := range m.Headers {
		h[hd.Key] = string(hd.Value)
	}
	return h
}

// Producer publishes messages to a topic.
type Producer interface {
	Produce(ctx context.Context, msg *Message) error
}

// Transport is the full surface the engine needs: produce, subscribe, and a
// capability report for header support. A transport without header support
// cannot carry test identity and is rejected with a configuration error the
// moment an active execution tries to produce through it.
type Transport interface {
	Producer

	// Subscribe returns the delivery channel for a topic. The channel is
	// closed when the transport closes. Within one topic, messages sharing
	// a key are delivered in production order.
	Subscribe(ctx context.Context, topic string) (<-chan *Message, error)

	// SupportsHeaders reports whether produced messages expose a header
	// list.
	SupportsHeaders() bool

	Close() error
}
