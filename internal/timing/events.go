// Package timing records and analyzes lifecycle events across the
// orchestrator. Every observable transition — job, batch, token, subprocess —
// lands in a single append-only collector, and the analyzer derives
// parallelism proofs, utilization and bottleneck reports from snapshots of
// that log.
package timing

import "time"

// EventType represents the kind of lifecycle transition an event records.
type EventType string

const (
	// EventJobCreated indicates a job object was created.
	EventJobCreated EventType = "job_created"
	// EventJobQueued indicates a job is waiting for a token lease.
	EventJobQueued EventType = "job_queued"
	// EventJobStarted indicates a job's worker process was launched.
	EventJobStarted EventType = "job_started"
	// EventJobCompleted indicates a job resolved successfully.
	EventJobCompleted EventType = "job_completed"
	// EventJobFailed indicates a job resolved with an error.
	EventJobFailed EventType = "job_failed"
	// EventTokenAssigned indicates a token lease was handed to a job.
	EventTokenAssigned EventType = "token_assigned"
	// EventTokenReleased indicates a token lease was returned to the pool.
	EventTokenReleased EventType = "token_released"
	// EventBatchCreated indicates a batch was opened by a strategy.
	EventBatchCreated EventType = "batch_created"
	// EventBatchResolved indicates a batch reached a terminal aggregate state.
	EventBatchResolved EventType = "batch_resolved"
	// EventSubprocessSpawned indicates a worker OS process started.
	EventSubprocessSpawned EventType = "subprocess_spawned"
	// EventSubprocessExited indicates a worker OS process exited.
	EventSubprocessExited EventType = "subprocess_exited"
	// EventDecomposeStarted indicates a decomposition call began.
	EventDecomposeStarted EventType = "decompose_started"
	// EventDecomposeFinished indicates a decomposition call returned.
	EventDecomposeFinished EventType = "decompose_finished"
)

// Event is one immutable record of a lifecycle transition.
type Event struct {
	// Seq is the insertion order within the collector, assigned on record.
	Seq int64 `json:"seq"`
	// Timestamp is when the transition occurred, microsecond precision.
	Timestamp time.Time `json:"timestamp"`
	// Type is the kind of transition.
	Type EventType `json:"type"`
	// Tier is the recursion depth of the related job, if applicable.
	Tier int `json:"tier"`
	// JobID correlates the event with a job.
	JobID string `json:"job_id,omitempty"`
	// BatchID correlates the event with a batch.
	BatchID string `json:"batch_id,omitempty"`
	// TokenID correlates the event with a token.
	TokenID string `json:"token_id,omitempty"`
	// Success records whether the transition represents a successful outcome.
	Success bool `json:"success"`
	// Duration is the elapsed time of the operation ending here, if known.
	Duration time.Duration `json:"duration_us,omitempty"`
	// Error is the failure detail for unsuccessful transitions.
	Error string `json:"error,omitempty"`
	// Metadata carries free-form key/value context such as pid or exit code.
	Metadata map[string]string `json:"metadata,omitempty"`
}
