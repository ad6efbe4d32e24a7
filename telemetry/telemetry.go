// Package telemetry records query executions in process.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/scalaris-go/kvquery/internal/debug"
)

// State is a step of the execution state machine.
type State string

const (
	StateIdle               State = "idle"
	StateConnectionAcquired State = "connection_acquired"
	StateCandidatesFetched  State = "candidates_fetched"
	StateEvaluated          State = "evaluated"
	StateMapped             State = "mapped"
	StateReleasedSuccess    State = "released_success"
	StateReleasedFailure    State = "released_failure"
)

// Event describes one query execution.
type Event struct {
	Query      string        `json:"query"`
	Class      string        `json:"class"`
	State      State         `json:"state"`
	Trail      []State       `json:"trail"`
	Acquired   bool          `json:"acquired"`
	Released   bool          `json:"released"`
	Candidates int           `json:"candidates"`
	Rows       int           `json:"rows"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Failed reports whether the execution ended in failure.
func (e Event) Failed() bool { return e.State == StateReleasedFailure || e.Error != "" }

// Recorder receives one event per execution.
type Recorder interface {
	Record(Event)
}

// Nop discards events.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(Event) {}

// Summary aggregates the events a Collector has seen.
type Summary struct {
	Executions int64
	Failures   int64
	Acquires   int64
	Releases   int64
	Candidates int64
	Rows       int64
}

// Collector aggregates events in memory and optionally writes them as JSON
// lines to a sink in batches. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	summary Summary
	recent  []Event
	history int
	pending []Event

	sink          io.Writer
	log           *slog.Logger
	batchSize     int
	flushInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithSink writes events to w as JSON lines.
func WithSink(w io.Writer) CollectorOption {
	return func(c *Collector) { c.sink = w }
}

// WithBatchSize flushes to the sink every n events.
func WithBatchSize(n int) CollectorOption {
	return func(c *Collector) { c.batchSize = n }
}

// WithFlushInterval flushes to the sink periodically. Zero disables the
// background flush.
func WithFlushInterval(d time.Duration) CollectorOption {
	return func(c *Collector) { c.flushInterval = d }
}

// WithLogger sets the logger that reports sink failures.
func WithLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.log = l }
}

// WithHistory keeps the last n events for Events.
func WithHistory(n int) CollectorOption {
	return func(c *Collector) { c.history = n }
}

// NewCollector creates a Collector. Close it to stop the background flush.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		history:   100,
		batchSize: 10,
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = debug.Component("telemetry")
	}
	if c.sink != nil && c.flushInterval > 0 {
		c.startBackgroundFlush()
	}
	return c
}

// Record implements Recorder.
func (c *Collector) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.summary.Executions++
	if e.Failed() {
		c.summary.Failures++
	}
	if e.Acquired {
		c.summary.Acquires++
	}
	if e.Released {
		c.summary.Releases++
	}
	c.summary.Candidates += int64(e.Candidates)
	c.summary.Rows += int64(e.Rows)

	if c.history > 0 {
		c.recent = append(c.recent, e)
		if len(c.recent) > c.history {
			c.recent = c.recent[len(c.recent)-c.history:]
		}
	}

	flush := false
	if c.sink != nil {
		c.pending = append(c.pending, e)
		flush = len(c.pending) >= c.batchSize
	}
	c.mu.Unlock()

	if flush {
		c.flushOrWarn()
	}
}

// Summary returns the aggregated counters.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Events returns the most recent events, oldest first.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.recent...)
}

// Flush writes pending events to the sink.
func (c *Collector) Flush() error {
	c.mu.Lock()
	if c.sink == nil || len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	events := c.pending
	c.pending = nil
	sink := c.sink

	// Writes stay under the lock so batches do not interleave.
	defer c.mu.Unlock()
	enc := json.NewEncoder(sink)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("telemetry flush: %w", err)
		}
	}
	return nil
}

func (c *Collector) flushOrWarn() {
	if err := c.Flush(); err != nil {
		c.log.Warn("telemetry flush failed", "error", err)
	}
}

func (c *Collector) startBackgroundFlush() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.flushOrWarn()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Close stops the background flush and writes remaining events.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	return c.Flush()
}

// Disabled reports whether telemetry is turned off through the
// KVQUERY_TELEMETRY_DISABLED environment variable.
func Disabled() bool {
	v := os.Getenv("KVQUERY_TELEMETRY_DISABLED")
	return v == "1" || v == "true"
}
