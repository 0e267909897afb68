package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/relay/internal/timing"
	"github.com/ShayCichocki/relay/pkg/models"
)

// ErrUnknownBatch is returned for lookups of batch IDs the manager never
// issued.
var ErrUnknownBatch = errors.New("unknown batch")

// CreateBatch registers a new empty batch. Members join via
// SubmitRequest.BatchID; the batch cannot resolve until SealBatch marks the
// member list complete (or a fail-fast failure resolves it early).
func (m *Manager) CreateBatch(strategy string, mode models.ExecutionMode, decomposed, failFast bool) *models.Batch {
	b := &models.Batch{
		ID:         uuid.New().String()[:8],
		Mode:       mode,
		State:      models.BatchStatePending,
		Strategy:   strategy,
		Decomposed: decomposed,
		FailFast:   failFast,
		CreatedAt:  time.Now(),
	}
	entry := &batchEntry{
		batch:        b,
		done:         make(chan struct{}),
		memberStates: make(map[string]models.JobState),
	}

	m.mu.Lock()
	m.batches[b.ID] = entry
	snap := snapshotBatchLocked(b)
	m.mu.Unlock()

	m.record(timing.Event{
		Type:    timing.EventBatchCreated,
		BatchID: b.ID,
		Success: true,
		Metadata: map[string]string{
			"label": b.Label(),
			"mode":  string(mode),
		},
	})
	m.logger.Log("[manager] batch %s created (%s, mode=%s)", b.ID, b.Label(), mode)

	return snap
}

// SealBatch marks a batch's member list complete. A sealed batch resolves as
// soon as every member reaches a terminal state; a sealed batch with zero
// members resolves completed immediately.
func (m *Manager) SealBatch(batchID string) error {
	m.mu.Lock()
	entry, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("seal batch %s: %w", batchID, ErrUnknownBatch)
	}
	entry.sealed = true
	ev, done := m.maybeResolveLocked(entry)
	m.mu.Unlock()

	if ev != nil {
		m.record(*ev)
	}
	if done != nil {
		close(done)
	}
	return nil
}

// FailBatch resolves a batch failed with a batch-level error, before or
// regardless of member outcomes. Used when batch setup itself fails, such as
// a decomposition error. Idempotent once the batch is terminal.
func (m *Manager) FailBatch(batchID string, kind models.ErrorKind, message string) error {
	m.mu.Lock()
	entry, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("fail batch %s: %w", batchID, ErrUnknownBatch)
	}
	if entry.batch.State.Terminal() {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	entry.batch.State = models.BatchStateFailed
	entry.batch.Err = &models.JobError{Kind: kind, Message: message}
	entry.batch.ResolvedAt = &now
	done := entry.done
	m.mu.Unlock()

	m.record(timing.Event{
		Type:    timing.EventBatchResolved,
		BatchID: batchID,
		Error:   string(kind),
	})
	close(done)
	m.logger.Log("[manager] batch %s failed: %s", batchID, message)
	return nil
}

// Batch returns a snapshot of the batch's current record.
func (m *Manager) Batch(batchID string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrUnknownBatch)
	}
	return snapshotBatchLocked(entry.batch), nil
}

// Batches returns snapshots of every batch the manager has tracked.
func (m *Manager) Batches() []*models.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Batch, 0, len(m.batches))
	for _, entry := range m.batches {
		out = append(out, snapshotBatchLocked(entry.batch))
	}
	return out
}

// AwaitBatch blocks until the batch resolves or ctx expires. On ctx expiry
// the current (unresolved) snapshot is returned alongside the ctx error;
// members keep running.
func (m *Manager) AwaitBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	m.mu.Lock()
	entry, ok := m.batches[batchID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("await batch %s: %w", batchID, ErrUnknownBatch)
	}

	select {
	case <-entry.done:
		return m.Batch(batchID)
	case <-ctx.Done():
		b, _ := m.Batch(batchID)
		return b, fmt.Errorf("await batch %s: %w", batchID, ctx.Err())
	}
}

// resolveMemberLocked records a member's terminal state and recomputes the
// aggregate. It returns a batch_resolved event and a done channel to close
// when the batch just resolved. Caller must hold m.mu.
func (m *Manager) resolveMemberLocked(job *models.Job) (*timing.Event, chan struct{}) {
	if job.BatchID == "" {
		return nil, nil
	}
	entry, ok := m.batches[job.BatchID]
	if !ok {
		return nil, nil
	}
	entry.memberStates[job.ID] = job.State
	return m.maybeResolveLocked(entry)
}

// maybeResolveLocked recomputes the aggregate state and resolves the batch
// when it has become terminal. An unsealed batch can only resolve through a
// fail-fast failure: more members may still be coming, so an all-completed
// aggregate is not yet proof of completion. Caller must hold m.mu.
func (m *Manager) maybeResolveLocked(entry *batchEntry) (*timing.Event, chan struct{}) {
	b := entry.batch
	if b.State.Terminal() {
		return nil, nil
	}

	states := make([]models.JobState, 0, len(entry.memberStates))
	for _, s := range entry.memberStates {
		states = append(states, s)
	}
	next := models.AggregateState(states, b.FailFast)

	if entry.sealed && len(states) == 0 {
		next = models.BatchStateCompleted
	}
	if next.Terminal() && !entry.sealed && !(b.FailFast && next == models.BatchStateFailed) {
		next = models.BatchStatePartial
	}

	b.State = next
	if !next.Terminal() {
		return nil, nil
	}

	now := time.Now()
	b.ResolvedAt = &now
	ev := &timing.Event{
		Type:    timing.EventBatchResolved,
		BatchID: b.ID,
		Success: next == models.BatchStateCompleted,
	}
	if next == models.BatchStateFailed {
		ev.Error = "member_failure"
	}
	return ev, entry.done
}

// snapshotBatchLocked copies a batch so callers never alias the live record.
func snapshotBatchLocked(b *models.Batch) *models.Batch {
	cp := *b
	cp.JobIDs = append([]string(nil), b.JobIDs...)
	if b.Err != nil {
		e := *b.Err
		cp.Err = &e
	}
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
