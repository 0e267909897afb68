package timing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Export file names within an export directory. These are the durable
// artifacts of a run: the raw event log, the derived analysis, and a
// human-readable timeline.
const (
	EventsFile   = "events.json"
	ReportFile   = "report.json"
	TimelineFile = "timeline.txt"
)

// WriteEvents writes the raw event log as indented JSON.
func WriteEvents(path string, events []Event) error {
	return writeJSON(path, events)
}

// ReadEvents loads an event log previously written with WriteEvents.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// WriteReport writes the derived analysis report as indented JSON.
func WriteReport(path string, report *Report) error {
	return writeJSON(path, report)
}

// WriteTimeline writes the plain-text chronological timeline.
func WriteTimeline(path string, entries []TimelineEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(FormatTimeline(entries)), 0644); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	return nil
}

// ExportAll writes all three artifacts for a run into dir.
func ExportAll(dir string, events []Event) error {
	analyzer := NewAnalyzer(events)
	if err := WriteEvents(filepath.Join(dir, EventsFile), events); err != nil {
		return err
	}
	if err := WriteReport(filepath.Join(dir, ReportFile), analyzer.Report()); err != nil {
		return err
	}
	return WriteTimeline(filepath.Join(dir, TimelineFile), analyzer.Timeline())
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
