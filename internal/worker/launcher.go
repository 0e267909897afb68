// Package worker abstracts the external CLI worker process. The orchestrator
// never reasons about what the worker does; it only cares about the contract:
// task in via argv, credential in via environment, JSON payload out on stdout
// with exit code 0 on success.
package worker

import (
	"context"
	"time"
)

// DefaultTokenEnv is the environment variable carrying the leased credential
// into the worker process when no override is configured.
const DefaultTokenEnv = "RELAY_WORKER_TOKEN"

// Spec describes one worker invocation.
type Spec struct {
	// JobID correlates subprocess events with the owning job.
	JobID string
	// Tier is the recursion depth of the owning job.
	Tier int
	// Task is the task description passed to the worker.
	Task string
	// Credential is the leased token credential injected via environment.
	Credential string
}

// Result is the observable outcome of one worker invocation. A nil error
// from Launch means the process ran to exit; the exit code and output still
// decide success.
type Result struct {
	// Stdout is the raw standard output, expected to be a JSON payload.
	Stdout []byte
	// Stderr is the captured standard error, kept for diagnostics.
	Stderr string
	// ExitCode is the process exit status.
	ExitCode int
	// Pid is the OS process ID, when a process was started.
	Pid int
	// Duration is spawn-to-exit wall time.
	Duration time.Duration
}

// Launcher runs worker processes. The production implementation spawns the
// real CLI; the fake simulates latency and exit codes so strategies and the
// timing collector can be tested without external processes.
//
// Launch blocks until the process exits or ctx is cancelled. Cancellation
// must terminate the process, not merely abandon the wait. A non-nil error
// is returned only when the process could not be spawned or was killed by
// ctx; a worker that runs and fails reports through Result.ExitCode.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Result, error)
}
