package models

import (
	"encoding/json"
	"time"
)

// JobState represents the current lifecycle state of a job.
type JobState string

const (
	// JobStateCreated indicates the job exists but has not been admitted.
	JobStateCreated JobState = "created"
	// JobStateQueued indicates the job is waiting for a token lease.
	JobStateQueued JobState = "queued"
	// JobStateStarted indicates the job holds a token and its worker is running.
	JobStateStarted JobState = "started"
	// JobStateCompleted indicates the worker exited cleanly with a valid payload.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the job ended with an error.
	JobStateFailed JobState = "failed"
)

// Valid returns true if the state is a known value.
func (s JobState) Valid() bool {
	switch s {
	case JobStateCreated, JobStateQueued, JobStateStarted, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state is absorbing: no further transitions
// are permitted out of it.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Queued may be skipped when a token is immediately available.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateCreated:
		return next == JobStateQueued || next == JobStateStarted || next == JobStateFailed
	case JobStateQueued:
		return next == JobStateStarted || next == JobStateFailed
	case JobStateStarted:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

// ErrorKind classifies why a job or batch failed.
type ErrorKind string

const (
	// ErrKindRecursionDepth indicates the configured max recursion depth was hit.
	ErrKindRecursionDepth ErrorKind = "recursion_depth_exceeded"
	// ErrKindDepthSaturated indicates the per-depth concurrency ceiling was hit.
	ErrKindDepthSaturated ErrorKind = "depth_saturated"
	// ErrKindPoolExhausted indicates no token became available within the wait budget.
	ErrKindPoolExhausted ErrorKind = "pool_exhausted"
	// ErrKindSpawn indicates the worker process could not be started.
	ErrKindSpawn ErrorKind = "spawn_error"
	// ErrKindTimeout indicates the job exceeded its timeout budget and was killed.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindMalformedOutput indicates the worker exited 0 but emitted an unparseable payload.
	ErrKindMalformedOutput ErrorKind = "malformed_output"
	// ErrKindNonZeroExit indicates the worker exited with a nonzero status.
	ErrKindNonZeroExit ErrorKind = "nonzero_exit"
	// ErrKindDecomposition indicates the decomposition collaborator failed.
	ErrKindDecomposition ErrorKind = "decomposition_failure"
)

// JobError is the structured failure attached to a failed job.
type JobError struct {
	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`
	// Message is a human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Job represents one invocation of the external worker process.
type Job struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// Tier is the recursion depth; 0 is a root-level task.
	Tier int `json:"tier"`
	// ParentID is the ID of the job that spawned this one, if any.
	ParentID string `json:"parent_id,omitempty"`
	// BatchID is the ID of the batch this job belongs to, if any.
	BatchID string `json:"batch_id,omitempty"`
	// Task is the task description fed to the worker.
	Task string `json:"task"`
	// TokenID is the ID of the token leased to this job while started.
	TokenID string `json:"token_id,omitempty"`
	// State is the current lifecycle state.
	State JobState `json:"state"`
	// Result is the JSON payload emitted by the worker on success.
	Result json.RawMessage `json:"result,omitempty"`
	// Err contains the structured failure if the job failed.
	Err *JobError `json:"error,omitempty"`
	// Timeout is the budget after which the worker is force-terminated.
	Timeout time.Duration `json:"timeout"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the worker process was launched, if it was.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the job reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the started-to-terminal wall time, or 0 if the job
// never started or has not resolved.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Resolved returns true if the job is in a terminal state.
func (j *Job) Resolved() bool {
	return j.State.Terminal()
}
