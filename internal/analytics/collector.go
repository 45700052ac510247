package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

// Sender ships a batch of events.
type Sender interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Collector buffers events and flushes them when the batch is full or on a
// timer. Tracking never blocks a request: when the buffer is saturated the
// oldest events are dropped. Events are also recorded on the local
// aggregator, if any, so stats work without Kafka.
type Collector struct {
	sender        Sender
	local         *Aggregator
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	buffer  []kafka.Event
	dropped int64
	kick    chan struct{}
	done    chan struct{}
}

// NewCollector returns a collector. sender may be nil, in which case
// events only reach local.
func NewCollector(sender Sender, local *Aggregator, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		sender:        sender,
		local:         local,
		batchSize:     batchSize,
		maxBuffered:   batchSize * 10,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Track records ev.
func (c *Collector) Track(ev Event) {
	if c == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if c.local != nil {
		c.local.Record(ev)
	}
	if c.sender == nil {
		return
	}
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: ev.Index, Value: ev})
	if over := len(c.buffer) - c.maxBuffered; over > 0 {
		c.buffer = c.buffer[over:]
		c.dropped += int64(over)
	}
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()
	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes until ctx is cancelled, then makes a last flush.
func (c *Collector) Run(ctx context.Context) {
	defer close(c.done)
	if c.sender == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush(ctx)
		case <-c.kick:
			c.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.flush(flushCtx)
			cancel()
			return
		}
	}
}

// Wait blocks until Run has returned.
func (c *Collector) Wait() {
	<-c.done
}

// Pending returns the number of buffered events.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = nil
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("analytics events dropped", "count", dropped)
	}
	if err := c.sender.Publish(ctx, batch...); err != nil {
		c.logger.Error("analytics flush failed", "events", len(batch), "error", err)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if over := len(c.buffer) - c.maxBuffered; over > 0 {
			c.buffer = c.buffer[over:]
			c.dropped += int64(over)
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("analytics flushed", "events", len(batch))
}
