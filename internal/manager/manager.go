// Package manager owns job lifecycles. It is the only component that spawns
// and reaps worker processes: strategies submit work here, the manager admits
// it through the recursion guard and token pool, launches the worker, and
// records every transition in the timing collector.
package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/internal/recursion"
	"github.com/ShayCichocki/relay/internal/timing"
	"github.com/ShayCichocki/relay/internal/tokenpool"
	"github.com/ShayCichocki/relay/internal/worker"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Config contains the manager's collaborators and defaults.
type Config struct {
	// Pool hands out exclusive token leases. Required.
	Pool *tokenpool.Pool
	// Guard bounds recursive spawning. Required.
	Guard *recursion.Guard
	// Launcher runs worker processes. Required.
	Launcher worker.Launcher
	// Collector receives every lifecycle event. Required.
	Collector *timing.Collector
	// Logger receives debug lines; defaults to a no-op logger.
	Logger *logging.DebugLogger
	// DefaultTimeout is the per-job budget when a request leaves it zero.
	DefaultTimeout time.Duration
	// AcquireBudget is the default token wait budget when a request leaves
	// it zero. Zero means wait as long as the caller's context allows.
	AcquireBudget time.Duration
}

// Manager tracks every job and batch in a single owned registry. All
// mutation goes through the manager's lock; callers only ever see snapshots.
type Manager struct {
	pool      *tokenpool.Pool
	guard     *recursion.Guard
	launcher  worker.Launcher
	collector *timing.Collector
	logger    *logging.DebugLogger

	defaultTimeout time.Duration
	acquireBudget  time.Duration

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	batches map[string]*batchEntry
}

// jobEntry pairs a job with its completion signal and kill switch.
type jobEntry struct {
	job    *models.Job
	done   chan struct{}
	cancel context.CancelFunc
}

// batchEntry tracks batch membership. sealed means the owning strategy has
// finished submitting members, so the aggregate state may resolve.
type batchEntry struct {
	batch        *models.Batch
	done         chan struct{}
	sealed       bool
	memberStates map[string]models.JobState
}

// New creates a Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		pool:           cfg.Pool,
		guard:          cfg.Guard,
		launcher:       cfg.Launcher,
		collector:      cfg.Collector,
		logger:         logger,
		defaultTimeout: cfg.DefaultTimeout,
		acquireBudget:  cfg.AcquireBudget,
		jobs:           make(map[string]*jobEntry),
		batches:        make(map[string]*batchEntry),
	}
}

// Collector returns the manager's timing collector so strategies can record
// their own events alongside job transitions.
func (m *Manager) Collector() *timing.Collector {
	return m.collector
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	// Task is the task description fed to the worker. Required.
	Task string
	// Tier is the recursion depth of this job; 0 for root tasks.
	Tier int
	// ParentID is the spawning job's ID for recursive submissions.
	ParentID string
	// BatchID attaches the job to an existing batch.
	BatchID string
	// Timeout overrides the manager's default job budget.
	Timeout time.Duration
	// AcquireBudget overrides the manager's default token wait budget.
	AcquireBudget time.Duration
}

// Submit creates a job, admits it through the recursion guard and token
// pool, and launches its worker. It returns once the job is started (or
// failed admission); it never waits for the worker to finish, so callers can
// fan out submissions without serializing on results.
//
// Recursion and pool rejections resolve the job failed and are also returned
// as errors; no subprocess is started and no resources are held in either
// case.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if req.Task == "" {
		return nil, fmt.Errorf("submit: empty task")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	job := &models.Job{
		ID:        uuid.New().String()[:8],
		Tier:      req.Tier,
		ParentID:  req.ParentID,
		BatchID:   req.BatchID,
		Task:      req.Task,
		State:     models.JobStateCreated,
		Timeout:   timeout,
		CreatedAt: time.Now(),
	}
	entry := &jobEntry{job: job, done: make(chan struct{})}

	m.mu.Lock()
	m.jobs[job.ID] = entry
	if req.BatchID != "" {
		if be, ok := m.batches[req.BatchID]; ok {
			be.batch.JobIDs = append(be.batch.JobIDs, job.ID)
			be.memberStates[job.ID] = job.State
		}
	}
	m.mu.Unlock()

	m.record(timing.Event{
		Type:    timing.EventJobCreated,
		Tier:    job.Tier,
		JobID:   job.ID,
		BatchID: job.BatchID,
		Success: true,
	})
	m.logger.Log("[manager] job %s created (tier=%d batch=%s): %s", job.ID, job.Tier, job.BatchID, job.Task)

	// Admission, guard first: a depth rejection must not consume a token.
	if err := m.guard.Enter(job.Tier); err != nil {
		kind := models.ErrKindDepthSaturated
		if errors.Is(err, recursion.ErrDepthExceeded) {
			kind = models.ErrKindRecursionDepth
		}
		m.failBeforeStart(entry, kind, err)
		return m.snapshotJob(job.ID), err
	}

	tok, ok := m.pool.TryAcquire(job.ID)
	if !ok {
		// Queued is skipped when a token is immediately available.
		m.transition(entry, models.JobStateQueued)
		m.record(timing.Event{
			Type:    timing.EventJobQueued,
			Tier:    job.Tier,
			JobID:   job.ID,
			BatchID: job.BatchID,
			Success: true,
		})

		budget := req.AcquireBudget
		if budget <= 0 {
			budget = m.acquireBudget
		}
		acquireCtx := ctx
		if budget > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}

		var err error
		tok, err = m.pool.Acquire(acquireCtx, job.ID)
		if err != nil {
			m.guard.Exit(job.Tier)
			m.failBeforeStart(entry, models.ErrKindPoolExhausted, err)
			return m.snapshotJob(job.ID), err
		}
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), timeout)

	m.mu.Lock()
	now := time.Now()
	job.TokenID = tok.ID
	job.StartedAt = &now
	job.State = models.JobStateStarted
	if job.BatchID != "" {
		if be, ok := m.batches[job.BatchID]; ok {
			be.memberStates[job.ID] = job.State
		}
	}
	entry.cancel = cancel
	m.mu.Unlock()

	m.record(timing.Event{
		Type:    timing.EventJobStarted,
		Tier:    job.Tier,
		JobID:   job.ID,
		BatchID: job.BatchID,
		TokenID: tok.ID,
		Success: true,
	})
	m.logger.Log("[manager] job %s started with %s", job.ID, tok.ID)

	go m.runJob(jobCtx, entry, tok)

	return m.snapshotJob(job.ID), nil
}

// runJob drives one worker invocation to a terminal state.
func (m *Manager) runJob(ctx context.Context, entry *jobEntry, tok *tokenpool.Token) {
	defer entry.cancel()

	m.mu.Lock()
	spec := worker.Spec{
		JobID:      entry.job.ID,
		Tier:       entry.job.Tier,
		Task:       entry.job.Task,
		Credential: tok.Credential,
	}
	timeout := entry.job.Timeout
	m.mu.Unlock()

	res, err := m.launcher.Launch(ctx, spec)

	var payload json.RawMessage
	var jerr *models.JobError
	switch {
	case ctx.Err() != nil:
		jerr = &models.JobError{
			Kind:    models.ErrKindTimeout,
			Message: fmt.Sprintf("worker force-terminated after %s budget", timeout),
		}
	case err != nil:
		jerr = &models.JobError{Kind: models.ErrKindSpawn, Message: err.Error()}
	case res.ExitCode != 0:
		jerr = &models.JobError{
			Kind:    models.ErrKindNonZeroExit,
			Message: fmt.Sprintf("exit code %d: %s", res.ExitCode, stderrTail(res.Stderr)),
		}
	default:
		trimmed := bytes.TrimSpace(res.Stdout)
		if len(trimmed) == 0 || !json.Valid(trimmed) {
			jerr = &models.JobError{
				Kind:    models.ErrKindMalformedOutput,
				Message: "worker stdout is not a valid JSON payload",
			}
		} else {
			payload = json.RawMessage(trimmed)
		}
	}

	m.finalize(entry, tok, payload, jerr)
}

// finalize moves a job to its terminal state and frees its resources. The
// token release and guard exit happen inside the same critical section as
// the state change, so no new job can be admitted against resources that are
// not actually free yet. Terminal states are absorbing: a second finalize is
// a no-op.
func (m *Manager) finalize(entry *jobEntry, tok *tokenpool.Token, payload json.RawMessage, jerr *models.JobError) {
	m.mu.Lock()
	job := entry.job
	if job.State.Terminal() {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	job.CompletedAt = &now
	if jerr != nil {
		job.State = models.JobStateFailed
		job.Err = jerr
	} else {
		job.State = models.JobStateCompleted
		job.Result = payload
	}

	if tok != nil {
		m.pool.Release(tok)
	}
	m.guard.Exit(job.Tier)

	ev := terminalEvent(job)
	batchEv, batchDone := m.resolveMemberLocked(job)
	m.mu.Unlock()

	m.record(ev)
	if batchEv != nil {
		m.record(*batchEv)
	}
	close(entry.done)
	if batchDone != nil {
		close(batchDone)
	}

	if jerr != nil {
		m.logger.Log("[manager] job %s failed: %s", job.ID, jerr.Error())
	} else {
		m.logger.Log("[manager] job %s completed in %s", job.ID, job.Duration())
	}
}

// failBeforeStart resolves a job that was rejected at admission. No token or
// guard slot is held at this point, so there is nothing to release.
func (m *Manager) failBeforeStart(entry *jobEntry, kind models.ErrorKind, cause error) {
	m.mu.Lock()
	job := entry.job
	if job.State.Terminal() {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	job.State = models.JobStateFailed
	job.Err = &models.JobError{Kind: kind, Message: cause.Error()}

	ev := terminalEvent(job)
	batchEv, batchDone := m.resolveMemberLocked(job)
	m.mu.Unlock()

	m.record(ev)
	if batchEv != nil {
		m.record(*batchEv)
	}
	close(entry.done)
	if batchDone != nil {
		close(batchDone)
	}
	m.logger.Log("[manager] job %s rejected: %s", job.ID, cause)
}

// transition updates a non-terminal job state under the lock.
func (m *Manager) transition(entry *jobEntry, next models.JobState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := entry.job
	if !job.State.CanTransition(next) {
		return
	}
	job.State = next
	if job.BatchID != "" {
		if be, ok := m.batches[job.BatchID]; ok {
			be.memberStates[job.ID] = next
		}
	}
}

// terminalEvent builds the job_completed/job_failed event for a job that
// just resolved. Caller must hold m.mu.
func terminalEvent(job *models.Job) timing.Event {
	ev := timing.Event{
		Tier:     job.Tier,
		JobID:    job.ID,
		BatchID:  job.BatchID,
		TokenID:  job.TokenID,
		Duration: job.Duration(),
	}
	if job.State == models.JobStateCompleted {
		ev.Type = timing.EventJobCompleted
		ev.Success = true
	} else {
		ev.Type = timing.EventJobFailed
		ev.Error = string(job.Err.Kind)
	}
	return ev
}

func (m *Manager) record(e timing.Event) {
	if m.collector != nil {
		m.collector.Record(e)
	}
}

// stderrTail returns the last line of stderr for compact error messages.
func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return "(no stderr)"
	}
	lines := strings.Split(stderr, "\n")
	tail := strings.TrimSpace(lines[len(lines)-1])
	if len(tail) > 200 {
		tail = tail[:200]
	}
	return tail
}
