// Package progress provides a pull-based mailbox for transfer progress
// events. Workers publish events from any goroutine; a single consumer
// drains them on its own schedule. This keeps the transfer core free of any
// assumption about which thread drives the presentation layer.
package progress

import (
	"sync"
	"time"
)

// EventKind identifies the kind of a progress event.
type EventKind int

// Event kinds emitted by the transfer managers.
const (
	// ChunkStarted is emitted when a worker picks up a chunk
	ChunkStarted EventKind = iota

	// ChunkProgress is emitted as bytes move within one chunk
	ChunkProgress

	// ChunkCompleted is emitted when a chunk finishes successfully
	ChunkCompleted

	// ChunkFailed is emitted when a chunk attempt fails
	ChunkFailed

	// TransferCompleted is emitted once when the whole transfer finishes
	TransferCompleted
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case ChunkStarted:
		return "chunk_started"
	case ChunkProgress:
		return "chunk_progress"
	case ChunkCompleted:
		return "chunk_completed"
	case ChunkFailed:
		return "chunk_failed"
	case TransferCompleted:
		return "transfer_completed"
	default:
		return "unknown"
	}
}

// Event is a single progress report produced by a transfer worker and
// consumed once by the front end.
type Event struct {
	// Kind is the event kind
	Kind EventKind

	// ChunkIndex is the zero-based chunk the event refers to; -1 for
	// transfer-level events
	ChunkIndex int

	// Bytes is the cumulative number of bytes transferred across the whole
	// operation at the time of the event
	Bytes int64

	// Total is the total number of bytes the operation will move
	Total int64

	// Err carries the chunk error for ChunkFailed events
	Err error

	// Time is when the event was produced
	Time time.Time
}

// Collector is a multi-writer, single-reader event mailbox. Publish never
// blocks and never panics; the consumer drains at whatever cadence suits it.
// A nil Collector is valid and discards all events.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Publish enqueues an event. Safe for concurrent use; never blocks on the
// consumer.
func (c *Collector) Publish(ev Event) {
	if c == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Drain returns all pending events in publish order and empties the mailbox.
func (c *Collector) Drain() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	out := c.events
	c.events = nil
	return out
}

// Next pops the oldest pending event, if any.
func (c *Collector) Next() (Event, bool) {
	if c == nil {
		return Event{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return Event{}, false
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev, true
}

// Pending returns the number of undelivered events.
func (c *Collector) Pending() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
