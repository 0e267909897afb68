package timing

import (
	"fmt"
	"sort"
	"time"
)

// Analyzer computes derived reports from a snapshot of the event log. It
// never mutates the collector; construct it with Collector.Snapshot().
type Analyzer struct {
	events []Event
	start  time.Time
}

// NewAnalyzer creates an analyzer over the given event snapshot. The
// timeline zero point is the earliest event timestamp.
func NewAnalyzer(events []Event) *Analyzer {
	a := &Analyzer{events: events}
	for _, e := range events {
		if a.start.IsZero() || e.Timestamp.Before(a.start) {
			a.start = e.Timestamp
		}
	}
	return a
}

// Interval is the started-to-resolved window of one job.
type Interval struct {
	// JobID is the job this interval belongs to.
	JobID string `json:"job_id"`
	// Tier is the job's recursion depth.
	Tier int `json:"tier"`
	// Start is the job_started timestamp.
	Start time.Time `json:"start"`
	// End is the terminal event timestamp.
	End time.Time `json:"end"`
	// Success is true if the job completed rather than failed.
	Success bool `json:"success"`
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two intervals share any instant in time.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// JobIntervals returns the resolved [started, terminal] intervals for jobs in
// the given batch. An empty batchID matches every job.
func (a *Analyzer) JobIntervals(batchID string) []Interval {
	starts := make(map[string]Event)
	var out []Interval

	for _, e := range a.events {
		if batchID != "" && e.BatchID != batchID {
			continue
		}
		switch e.Type {
		case EventJobStarted:
			starts[e.JobID] = e
		case EventJobCompleted, EventJobFailed:
			se, ok := starts[e.JobID]
			if !ok {
				continue // failed before start, no interval
			}
			out = append(out, Interval{
				JobID:   e.JobID,
				Tier:    se.Tier,
				Start:   se.Timestamp,
				End:     e.Timestamp,
				Success: e.Type == EventJobCompleted,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// OverlapReport is the parallelism proof for one batch: whether any two
// member intervals genuinely overlapped in wall-clock time, and how the
// batch's wall clock compares to the sum of member durations.
type OverlapReport struct {
	// BatchID identifies the batch.
	BatchID string `json:"batch_id"`
	// Label is the batch's strategy label (e.g. decomposed-sequential).
	Label string `json:"label,omitempty"`
	// Jobs is the number of resolved member intervals.
	Jobs int `json:"jobs"`
	// OverlappingPairs counts member pairs whose intervals overlapped.
	OverlappingPairs int `json:"overlapping_pairs"`
	// Overlapped is true if at least one pair overlapped.
	Overlapped bool `json:"overlapped"`
	// WallClock is earliest start to latest end across members.
	WallClock time.Duration `json:"wall_clock_us"`
	// SumDurations is the sum of individual member durations.
	SumDurations time.Duration `json:"sum_durations_us"`
}

// OverlapProof computes the parallelism proof for a batch. Sequential
// execution yields zero overlapping pairs and WallClock >= SumDurations;
// parallel execution yields at least one overlapping pair and a wall clock
// bounded by the slowest member rather than the sum.
func (a *Analyzer) OverlapProof(batchID string) OverlapReport {
	ivs := a.JobIntervals(batchID)
	report := OverlapReport{BatchID: batchID, Jobs: len(ivs), Label: a.batchLabel(batchID)}

	if len(ivs) == 0 {
		return report
	}

	earliest, latest := ivs[0].Start, ivs[0].End
	for _, iv := range ivs {
		report.SumDurations += iv.Duration()
		if iv.Start.Before(earliest) {
			earliest = iv.Start
		}
		if iv.End.After(latest) {
			latest = iv.End
		}
	}
	report.WallClock = latest.Sub(earliest)

	for i := 0; i < len(ivs); i++ {
		for j := i + 1; j < len(ivs); j++ {
			if ivs[i].Overlaps(ivs[j]) {
				report.OverlappingPairs++
			}
		}
	}
	report.Overlapped = report.OverlappingPairs > 0
	return report
}

// batchLabel returns the label metadata recorded on the batch_created event.
func (a *Analyzer) batchLabel(batchID string) string {
	for _, e := range a.events {
		if e.Type == EventBatchCreated && e.BatchID == batchID {
			return e.Metadata["label"]
		}
	}
	return ""
}

// TokenUtilization summarizes one token's assignment history.
type TokenUtilization struct {
	// TokenID identifies the token.
	TokenID string `json:"token_id"`
	// Assignments is how many leases the token served.
	Assignments int `json:"assignments"`
	// HeldFor is the total time the token was leased out.
	HeldFor time.Duration `json:"held_for_us"`
}

// TokenUtilization computes per-token assignment counts and total hold
// durations from token_assigned/token_released pairs, sorted by token ID.
func (a *Analyzer) TokenUtilization() []TokenUtilization {
	assigned := make(map[string]time.Time)
	usage := make(map[string]*TokenUtilization)

	for _, e := range a.events {
		switch e.Type {
		case EventTokenAssigned:
			assigned[e.TokenID] = e.Timestamp
			u, ok := usage[e.TokenID]
			if !ok {
				u = &TokenUtilization{TokenID: e.TokenID}
				usage[e.TokenID] = u
			}
			u.Assignments++
		case EventTokenReleased:
			if at, ok := assigned[e.TokenID]; ok {
				usage[e.TokenID].HeldFor += e.Timestamp.Sub(at)
				delete(assigned, e.TokenID)
			}
		}
	}

	out := make([]TokenUtilization, 0, len(usage))
	for _, u := range usage {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// TokenExclusivityViolations scans token assignment intervals and reports
// any instant where a token had two holders. A correct pool produces none.
func (a *Analyzer) TokenExclusivityViolations() []string {
	type lease struct {
		jobID string
		start time.Time
		end   time.Time
		open  bool
	}
	leases := make(map[string][]lease)

	for _, e := range a.events {
		switch e.Type {
		case EventTokenAssigned:
			leases[e.TokenID] = append(leases[e.TokenID], lease{jobID: e.JobID, start: e.Timestamp, open: true})
		case EventTokenReleased:
			ls := leases[e.TokenID]
			for i := len(ls) - 1; i >= 0; i-- {
				if ls[i].open {
					ls[i].end = e.Timestamp
					ls[i].open = false
					break
				}
			}
		}
	}

	var violations []string
	for tokenID, ls := range leases {
		for i := 0; i < len(ls); i++ {
			for j := i + 1; j < len(ls); j++ {
				a, b := ls[i], ls[j]
				aEnd, bEnd := a.end, b.end
				if a.open {
					aEnd = b.start.Add(time.Hour) // still held: treat as unbounded
				}
				if b.open {
					bEnd = a.start.Add(time.Hour)
				}
				if a.start.Before(bEnd) && b.start.Before(aEnd) {
					violations = append(violations, fmt.Sprintf(
						"token %s held by %s and %s concurrently", tokenID, a.jobID, b.jobID))
				}
			}
		}
	}
	sort.Strings(violations)
	return violations
}

// Bottleneck is one completed operation ranked by duration.
type Bottleneck struct {
	// Type is the event type that closed the operation.
	Type EventType `json:"type"`
	// JobID is the correlated job, if any.
	JobID string `json:"job_id,omitempty"`
	// BatchID is the correlated batch, if any.
	BatchID string `json:"batch_id,omitempty"`
	// Duration is the operation's elapsed time.
	Duration time.Duration `json:"duration_us"`
}

// Bottlenecks returns completed operations sorted by duration descending.
// limit <= 0 returns all.
func (a *Analyzer) Bottlenecks(limit int) []Bottleneck {
	var out []Bottleneck
	for _, e := range a.events {
		if e.Duration <= 0 {
			continue
		}
		out = append(out, Bottleneck{Type: e.Type, JobID: e.JobID, BatchID: e.BatchID, Duration: e.Duration})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Duration > out[j].Duration })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Rate is a success-rate rollup line.
type Rate struct {
	// Total is the number of observations.
	Total int `json:"total"`
	// Succeeded is how many carried a success flag.
	Succeeded int `json:"succeeded"`
	// Value is Succeeded/Total, 0 when Total is 0.
	Value float64 `json:"rate"`
}

func rateOf(total, succeeded int) Rate {
	r := Rate{Total: total, Succeeded: succeeded}
	if total > 0 {
		r.Value = float64(succeeded) / float64(total)
	}
	return r
}

// SuccessByTier rolls up terminal job outcomes per recursion tier.
func (a *Analyzer) SuccessByTier() map[int]Rate {
	total := make(map[int]int)
	ok := make(map[int]int)
	for _, e := range a.events {
		if e.Type != EventJobCompleted && e.Type != EventJobFailed {
			continue
		}
		total[e.Tier]++
		if e.Success {
			ok[e.Tier]++
		}
	}
	out := make(map[int]Rate, len(total))
	for tier, n := range total {
		out[tier] = rateOf(n, ok[tier])
	}
	return out
}

// SuccessByType rolls up the success flag per event type.
func (a *Analyzer) SuccessByType() map[EventType]Rate {
	total := make(map[EventType]int)
	ok := make(map[EventType]int)
	for _, e := range a.events {
		total[e.Type]++
		if e.Success {
			ok[e.Type]++
		}
	}
	out := make(map[EventType]Rate, len(total))
	for typ, n := range total {
		out[typ] = rateOf(n, ok[typ])
	}
	return out
}

// Report is the full derived analysis for one run, serializable to JSON.
type Report struct {
	// GeneratedAt is when the report was computed.
	GeneratedAt time.Time `json:"generated_at"`
	// Events is the number of events analyzed.
	Events int `json:"events"`
	// Batches holds one overlap proof per batch seen in the log.
	Batches []OverlapReport `json:"batches"`
	// Tokens holds per-token utilization.
	Tokens []TokenUtilization `json:"tokens"`
	// ExclusivityViolations lists token-exclusivity breaches (expected empty).
	ExclusivityViolations []string `json:"exclusivity_violations,omitempty"`
	// Bottlenecks ranks completed operations by duration, slowest first.
	Bottlenecks []Bottleneck `json:"bottlenecks"`
	// SuccessByTier rolls up terminal job outcomes per tier. Keys are the
	// tier numbers formatted as strings for JSON friendliness.
	SuccessByTier map[string]Rate `json:"success_by_tier"`
	// SuccessByType rolls up the success flag per event type.
	SuccessByType map[EventType]Rate `json:"success_by_type"`
}

// Report computes the full analysis over the snapshot.
func (a *Analyzer) Report() *Report {
	r := &Report{
		GeneratedAt:           time.Now(),
		Events:                len(a.events),
		Tokens:                a.TokenUtilization(),
		ExclusivityViolations: a.TokenExclusivityViolations(),
		Bottlenecks:           a.Bottlenecks(20),
		SuccessByType:         a.SuccessByType(),
		SuccessByTier:         make(map[string]Rate),
	}
	for tier, rate := range a.SuccessByTier() {
		r.SuccessByTier[fmt.Sprintf("%d", tier)] = rate
	}

	seen := make(map[string]bool)
	for _, e := range a.events {
		if e.Type == EventBatchCreated && !seen[e.BatchID] {
			seen[e.BatchID] = true
			r.Batches = append(r.Batches, a.OverlapProof(e.BatchID))
		}
	}
	return r
}
