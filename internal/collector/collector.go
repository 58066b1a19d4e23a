// Package collector buffers events from one activity source and writes
// them to that source's store. Nothing in here ever returns an error to,
// or panics into, the process being observed.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/privacy"
	"github.com/ziadkadry99/flowtrace/internal/scheduler"
)

// DefaultBatchSize is the number of buffered events that triggers a write.
const DefaultBatchSize = 32

// writeTimeout bounds one batch write.
const writeTimeout = 10 * time.Second

// Sink is where a collector's batches go; *store.Store satisfies it.
type Sink interface {
	Name() string
	Insert(ctx context.Context, events []event.Event) error
}

// Collector records events for one store.
type Collector struct {
	sink      Sink
	clock     scheduler.Clock
	hasher    *privacy.Hasher
	logger    *slog.Logger
	batchSize int

	mu        sync.Mutex
	sessionID string
	paused    bool
	buf       []event.Event
	dropped   int
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the clock used to stamp events without a timestamp.
func WithClock(c scheduler.Clock) Option { return func(col *Collector) { col.clock = c } }

// WithHasher enables one-way hashing of identifying payload values.
func WithHasher(h *privacy.Hasher) Option { return func(col *Collector) { col.hasher = h } }

// WithLogger sets the structured logger for swallowed failures.
func WithLogger(l *slog.Logger) Option { return func(col *Collector) { col.logger = l } }

// WithBatchSize sets how many events are buffered before a write.
func WithBatchSize(n int) Option {
	return func(col *Collector) {
		if n > 0 {
			col.batchSize = n
		}
	}
}

// New creates a collector writing to sink.
func New(sink Sink, opts ...Option) *Collector {
	c := &Collector{
		sink:      sink,
		clock:     scheduler.Real(),
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("collector", sink.Name())
	return c
}

// Name returns the name of the store the collector writes to.
func (c *Collector) Name() string { return c.sink.Name() }

// StartSession begins a new session, flushing anything buffered for the
// previous one. An empty explicitID mints a fresh UUID.
func (c *Collector) StartSession(explicitID string) string {
	c.Flush()
	id := explicitID
	if id == "" {
		id = uuid.New().String()
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	c.logger.Debug("session started", "session_id", id)
	return id
}

// StopSession flushes buffered events and forgets the current session.
func (c *Collector) StopSession() {
	c.Flush()
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if id != "" {
		c.logger.Debug("session stopped", "session_id", id)
	}
}

// SessionID returns the current session id, or "" when none is active.
func (c *Collector) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Pause makes Record a no-op until Resume is called.
func (c *Collector) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume re-enables recording.
func (c *Collector) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Paused reports whether collection is inactive.
func (c *Collector) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Record buffers one event. It does nothing while paused. Without a current
// session one is started. The event keeps its own session id and
// timestamp when it has them.
func (c *Collector) Record(e event.Event) {
	c.bestEffort("record", func() error {
		c.mu.Lock()
		if c.paused {
			c.mu.Unlock()
			return nil
		}
		// Check and mint under one lock so concurrent first events share a session.
		started := ""
		if c.sessionID == "" {
			c.sessionID = uuid.New().String()
			started = c.sessionID
		}
		c.mu.Unlock()
		if started != "" {
			c.logger.Debug("session started", "session_id", started)
		}

		if e.Payload == nil {
			return fmt.Errorf("%w: %s event has no payload", event.ErrMalformedEvent, e.Kind)
		}
		if e.Kind == "" {
			e.Kind = e.Payload.Kind()
		}
		if e.Timestamp.IsZero() {
			if e.RawTimestamp == "" {
				e.Timestamp = c.clock.Now().UTC()
			} else if ts, err := event.ParseTimestamp(e.RawTimestamp); err == nil {
				e.Timestamp = ts
			}
		}
		if c.hasher != nil {
			e.Payload = c.hasher.Redact(e.Payload)
		}

		c.mu.Lock()
		if e.SessionID == "" {
			e.SessionID = c.sessionID
		}
		c.buf = append(c.buf, e)
		full := len(c.buf) >= c.batchSize
		c.mu.Unlock()

		if full {
			return c.flush()
		}
		return nil
	})
}

// Flush writes every buffered event in one transaction. A failed batch
// is logged and discarded.
func (c *Collector) Flush() {
	c.bestEffort("flush", c.flush)
}

// Pending returns the number of buffered events.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Dropped returns how many events were discarded after failed writes.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Collector) flush() error {
	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.sink.Insert(ctx, batch); err != nil {
		c.mu.Lock()
		c.dropped += len(batch)
		c.mu.Unlock()
		return fmt.Errorf("writing %d events: %w", len(batch), err)
	}
	return nil
}

// bestEffort runs fn, turning errors and panics into warnings.
func (c *Collector) bestEffort(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("collector panic recovered", "op", op, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		c.logger.Warn("collector operation failed", "op", op, "error", err)
	}
}
