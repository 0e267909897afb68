package models

import "time"

// ExecutionMode describes whether a batch's members run concurrently or one
// after another.
type ExecutionMode string

const (
	// ModeParallel runs batch members concurrently.
	ModeParallel ExecutionMode = "parallel"
	// ModeSequential runs batch members one at a time, in order.
	ModeSequential ExecutionMode = "sequential"
)

// Valid returns true if the mode is a known value.
func (m ExecutionMode) Valid() bool {
	return m == ModeParallel || m == ModeSequential
}

// BatchState represents the aggregate state of a batch.
type BatchState string

const (
	// BatchStatePending indicates no member has resolved yet.
	BatchStatePending BatchState = "pending"
	// BatchStatePartial indicates some, but not all, members have resolved.
	BatchStatePartial BatchState = "partial"
	// BatchStateCompleted indicates every member completed successfully.
	BatchStateCompleted BatchState = "completed"
	// BatchStateFailed indicates the batch resolved with at least one failure.
	BatchStateFailed BatchState = "failed"
)

// Terminal returns true if the batch state is final.
func (s BatchState) Terminal() bool {
	return s == BatchStateCompleted || s == BatchStateFailed
}

// Batch is a named group of jobs submitted together under one execution
// strategy.
type Batch struct {
	// ID is the unique identifier for this batch.
	ID string `json:"id"`
	// JobIDs is the ordered list of member job IDs.
	JobIDs []string `json:"job_ids"`
	// Mode is how members execute relative to each other.
	Mode ExecutionMode `json:"mode"`
	// State is the aggregate state derived from member states.
	State BatchState `json:"state"`
	// Strategy names the execution strategy that created this batch
	// (sync, fire_and_forget, decompose).
	Strategy string `json:"strategy"`
	// Decomposed is true if the members came from task decomposition.
	Decomposed bool `json:"decomposed"`
	// FailFast marks the batch failed as soon as one member fails.
	FailFast bool `json:"fail_fast"`
	// Err records a batch-level failure such as a decomposition error.
	Err *JobError `json:"error,omitempty"`
	// CreatedAt is when the batch was created.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the batch reached a terminal state, if it has.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Label returns the analysis label for this batch. Decomposed batches are
// labelled decomposed-sequential or decomposed-parallel so that downstream
// consumers can tell the two submodes apart.
func (b *Batch) Label() string {
	if b.Decomposed {
		return "decomposed-" + string(b.Mode)
	}
	return b.Strategy
}

// AggregateState derives a batch state from its members' states.
// The batch is completed iff every member completed. With failFast set, a
// single failure resolves the batch failed immediately; otherwise the batch
// stays partial until every member resolves and then fails if any member did.
func AggregateState(states []JobState, failFast bool) BatchState {
	if len(states) == 0 {
		return BatchStatePending
	}
	resolved, failed := 0, 0
	for _, s := range states {
		if s.Terminal() {
			resolved++
		}
		if s == JobStateFailed {
			failed++
		}
	}
	if failed > 0 && failFast {
		return BatchStateFailed
	}
	if resolved < len(states) {
		if resolved == 0 {
			return BatchStatePending
		}
		return BatchStatePartial
	}
	if failed > 0 {
		return BatchStateFailed
	}
	return BatchStateCompleted
}
