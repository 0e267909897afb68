package timing

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorRecordAssignsSequence(t *testing.T) {
	c := NewCollector()
	c.Record(Event{Type: EventJobCreated, JobID: "a"})
	c.Record(Event{Type: EventJobStarted, JobID: "a"})

	events := c.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("sequence numbers = %d, %d; want 1, 2", events[0].Seq, events[1].Seq)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled in when left zero")
	}
}

func TestCollectorSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.Record(Event{Type: EventJobCreated, JobID: "a"})

	snap := c.Snapshot()
	snap[0].JobID = "mutated"

	if c.Snapshot()[0].JobID != "a" {
		t.Error("mutating a snapshot must not affect the collector's log")
	}
}

func TestCollectorRetention(t *testing.T) {
	c := NewCollectorWithRetention(3)
	for i := 0; i < 5; i++ {
		c.Record(Event{Type: EventJobCreated})
	}

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if c.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", c.Dropped())
	}

	events := c.Snapshot()
	// The oldest two should have been discarded.
	if events[0].Seq != 3 || events[2].Seq != 5 {
		t.Errorf("retained seq range = [%d, %d], want [3, 5]", events[0].Seq, events[2].Seq)
	}
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record(Event{Type: EventTokenAssigned, TokenID: "token-1"})
			}
		}()
	}
	wg.Wait()

	if c.Len() != 800 {
		t.Errorf("Len() = %d, want 800", c.Len())
	}

	// Sequence numbers must be unique.
	seen := make(map[int64]bool)
	for _, e := range c.Snapshot() {
		if seen[e.Seq] {
			t.Fatalf("duplicate sequence number %d", e.Seq)
		}
		seen[e.Seq] = true
	}
}

func TestCollectorPreservesExplicitTimestamp(t *testing.T) {
	c := NewCollector()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.Record(Event{Type: EventJobCreated, Timestamp: ts})

	if got := c.Snapshot()[0].Timestamp; !got.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got, ts)
	}
}
