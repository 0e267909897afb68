package timing

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimelineEntry is one chronological line of a run, offset from the first
// event.
type TimelineEntry struct {
	// Offset is the time since the first event in the log.
	Offset time.Duration `json:"offset_us"`
	// Type is the event type.
	Type EventType `json:"type"`
	// Detail is the rendered correlation context (job/batch/token/error).
	Detail string `json:"detail"`
}

// Timeline renders the event log as relative-offset entries in timestamp
// order.
func (a *Analyzer) Timeline() []TimelineEntry {
	events := make([]Event, len(a.events))
	copy(events, a.events)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	out := make([]TimelineEntry, 0, len(events))
	for _, e := range events {
		out = append(out, TimelineEntry{
			Offset: e.Timestamp.Sub(a.start),
			Type:   e.Type,
			Detail: eventDetail(e),
		})
	}
	return out
}

// eventDetail renders the correlation fields of an event into one line.
func eventDetail(e Event) string {
	var parts []string
	if e.JobID != "" {
		parts = append(parts, "job="+e.JobID)
	}
	if e.BatchID != "" {
		parts = append(parts, "batch="+e.BatchID)
	}
	if e.TokenID != "" {
		parts = append(parts, "token="+e.TokenID)
	}
	if e.Tier > 0 {
		parts = append(parts, fmt.Sprintf("tier=%d", e.Tier))
	}
	if e.Duration > 0 {
		parts = append(parts, fmt.Sprintf("took=%s", e.Duration.Round(time.Microsecond)))
	}
	if e.Error != "" {
		parts = append(parts, "error="+e.Error)
	}
	for _, k := range sortedKeys(e.Metadata) {
		parts = append(parts, k+"="+e.Metadata[k])
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatTimeline renders timeline entries as plain text, one line per event:
//
//	+0.000142s  job_started        job=3f2a token=token-1 tier=0
func FormatTimeline(entries []TimelineEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "+%.6fs  %-19s %s\n", e.Offset.Seconds(), e.Type, e.Detail)
	}
	return b.String()
}
