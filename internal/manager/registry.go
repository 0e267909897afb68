package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/relay/pkg/models"
)

// ErrUnknownJob is returned for lookups of job IDs the manager never issued.
var ErrUnknownJob = errors.New("unknown job")

// Poll returns a job's current state without blocking.
func (m *Manager) Poll(jobID string) (models.JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[jobID]
	if !ok {
		return "", fmt.Errorf("poll job %s: %w", jobID, ErrUnknownJob)
	}
	return entry.job.State, nil
}

// Job returns a snapshot of the job's current record.
func (m *Manager) Job(jobID string) (*models.Job, error) {
	job := m.snapshotJob(jobID)
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrUnknownJob)
	}
	return job, nil
}

// Jobs returns snapshots of every job the manager has tracked, in no
// particular order.
func (m *Manager) Jobs() []*models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Job, 0, len(m.jobs))
	for _, entry := range m.jobs {
		out = append(out, snapshotJobLocked(entry.job))
	}
	return out
}

// Await blocks until the job reaches a terminal state or ctx expires.
//
// On ctx expiry the worker is force-terminated: Await cancels the job's run
// context, waits for the kill to be reaped, and returns the failed job (kind
// timeout) together with the ctx error. The job's token and guard slot are
// released before Await returns, so an awaited timeout never leaks capacity.
func (m *Manager) Await(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("await job %s: %w", jobID, ErrUnknownJob)
	}

	select {
	case <-entry.done:
		return m.snapshotJob(jobID), nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	cancel := entry.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	// The kill is reaped by runJob, which finalizes the job and closes done.
	<-entry.done

	return m.snapshotJob(jobID), fmt.Errorf("await job %s: %w", jobID, ctx.Err())
}

// snapshotJob returns a copy of the job record, or nil for unknown IDs.
func (m *Manager) snapshotJob(jobID string) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	return snapshotJobLocked(entry.job)
}

// snapshotJobLocked copies a job so callers never alias the live record.
func snapshotJobLocked(job *models.Job) *models.Job {
	cp := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	if job.Err != nil {
		e := *job.Err
		cp.Err = &e
	}
	return &cp
}
