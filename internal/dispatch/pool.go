// Package dispatch runs the two bounded-concurrency consumer loops: the
// signal bus pool and the pending-tests pool.
package dispatch

import (
	"context"
	"hash/fnv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/signalcheck/internal/ctxlog"
	"github.com/vk/signalcheck/internal/transport"
)

// Default pool sizes.
const (
	DefaultBusConcurrency  = 30
	DefaultTestConcurrency = 100
)

// shardQueueCap bounds each worker's private queue. Small on purpose: the
// inbound topic channel is the real buffer, the shard queue only smooths
// routing.
const shardQueueCap = 64

// handlerFunc processes one message. A returned error is fatal for the
// whole pool; per-message conditions must be handled (and logged) inside.
type handlerFunc func(ctx context.Context, msg *transport.Message) error

// pool is a fixed-size worker pool. Messages are routed to workers by
// hashing the partition key, so messages sharing a test id land on the same
// worker and keep their emission order; messages with different ids spread
// across workers with no relative ordering.
type pool struct {
	name    string
	size    int
	metrics *Metrics
	handle  handlerFunc
}

func (p *pool) run(ctx context.Context, msgs <-chan *transport.Message) error {
	logger := ctxlog.FromContext(ctx).With("pool", p.name)
	logger.Debug("Dispatcher pool starting.", "workers", p.size)

	queues := make([]chan *transport.Message, p.size)
	for i := range queues {
		queues[i] = make(chan *transport.Message, shardQueueCap)
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := range queues {
		queue := queues[i]
		workerID := i
		g.Go(func() error {
			logger.Debug("Worker started.", "workerID", workerID)
			defer logger.Debug("Worker finished.", "workerID", workerID)
			for msg := range queue {
				p.metrics.Depth.WithLabelValues(p.name).Dec()
				p.metrics.Inflight.WithLabelValues(p.name).Inc()
				started := time.Now()
				err := p.handle(gctx, msg)
				p.metrics.Latency.WithLabelValues(p.name).Observe(time.Since(started).Seconds())
				p.metrics.Inflight.WithLabelValues(p.name).Dec()
				if err != nil {
					logger.Error("Pool stopping on fatal dispatch error.",
						"workerID", workerID, "error", err)
					return err
				}
			}
			return nil
		})
	}

	// Feeder: route inbound messages to worker shards by partition key.
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					logger.Debug("Inbound channel closed, draining workers.")
					return nil
				}
				shard := queues[p.shardFor(msg.Key)]
				select {
				case shard <- msg:
					p.metrics.Depth.WithLabelValues(p.name).Inc()
				case <-gctx.Done():
					return gctx.Err()
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

func (p *pool) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.size))
}
