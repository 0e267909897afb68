package timing

import (
	"sync"
	"time"
)

// Collector is the append-only event log shared by all orchestrator
// components. Record holds a single short mutex for the append only; no I/O
// happens under the lock, so contention stays low even when every job
// transition across the run reports here.
type Collector struct {
	mu      sync.Mutex
	events  []Event
	seq     int64
	start   time.Time
	cap     int
	dropped uint64
}

// NewCollector creates an unbounded collector.
func NewCollector() *Collector {
	return NewCollectorWithRetention(0)
}

// NewCollectorWithRetention creates a collector that retains at most n
// events, discarding the oldest once full. n <= 0 means unbounded.
func NewCollectorWithRetention(n int) *Collector {
	return &Collector{
		start: time.Now(),
		cap:   n,
	}
}

// Record appends an event to the log. The sequence number is always assigned
// by the collector; the timestamp is filled in if the caller left it zero.
func (c *Collector) Record(e Event) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	e.Seq = c.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}

	if c.cap > 0 && len(c.events) >= c.cap {
		// Ring behavior: drop the oldest entry.
		copy(c.events, c.events[1:])
		c.events[len(c.events)-1] = e
		c.dropped++
		return
	}
	c.events = append(c.events, e)
}

// Snapshot returns a copy of the current event log. Consumers operate on the
// copy; the collector's log is never handed out for mutation.
func (c *Collector) Snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Len returns the number of retained events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Dropped returns how many events were discarded due to the retention cap.
func (c *Collector) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Start returns the collector's creation time, the zero offset for
// timeline rendering.
func (c *Collector) Start() time.Time {
	return c.start
}
