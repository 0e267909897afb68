package strategy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ShayCichocki/relay/internal/manager"
	"github.com/ShayCichocki/relay/internal/timing"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Decomposer turns one task into an ordered list of subtasks.
type Decomposer interface {
	Decompose(ctx context.Context, task string) ([]string, error)
}

// DecomposerFunc adapts a function to the Decomposer interface.
type DecomposerFunc func(ctx context.Context, task string) ([]string, error)

// Decompose implements Decomposer.
func (f DecomposerFunc) Decompose(ctx context.Context, task string) ([]string, error) {
	return f(ctx, task)
}

// Decompose plans subtasks for each input task and executes them as one
// batch. The default submode runs subtasks sequentially, awaiting each
// before submitting the next; the parallel submode submits them all and
// awaits the batch. The two submodes are distinguishable downstream through
// the batch labels decomposed-sequential and decomposed-parallel.
type Decompose struct {
	manager    *manager.Manager
	decomposer Decomposer
	tier       int
	mode       models.ExecutionMode
}

// NewDecompose creates a decompose strategy in the sequential submode.
func NewDecompose(m *manager.Manager, d Decomposer, tier int) *Decompose {
	return &Decompose{manager: m, decomposer: d, tier: tier, mode: models.ModeSequential}
}

// NewDecomposeParallel creates a decompose strategy in the parallel submode.
func NewDecomposeParallel(m *manager.Manager, d Decomposer, tier int) *Decompose {
	return &Decompose{manager: m, decomposer: d, tier: tier, mode: models.ModeParallel}
}

// Name implements Strategy.
func (s *Decompose) Name() string { return "decompose" }

// Execute decomposes every input task, then runs the combined subtask list
// under the configured submode. A decomposition failure resolves the batch
// failed before any job is submitted.
func (s *Decompose) Execute(ctx context.Context, tasks ...string) (*models.Batch, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("decompose: no tasks")
	}

	batch := s.manager.CreateBatch(s.Name(), s.mode, true, false)

	var subtasks []string
	for _, task := range tasks {
		subs, err := s.decomposePlanned(ctx, batch.ID, task)
		if err != nil {
			failErr := fmt.Errorf("decompose %q: %w", task, err)
			s.manager.FailBatch(batch.ID, models.ErrKindDecomposition, failErr.Error())
			b, _ := s.manager.Batch(batch.ID)
			return b, failErr
		}
		subtasks = append(subtasks, subs...)
	}
	if len(subtasks) == 0 {
		failErr := fmt.Errorf("decompose: planner produced no subtasks")
		s.manager.FailBatch(batch.ID, models.ErrKindDecomposition, failErr.Error())
		b, _ := s.manager.Batch(batch.ID)
		return b, failErr
	}

	if s.mode == models.ModeSequential {
		return s.runSequential(ctx, batch.ID, subtasks)
	}
	return s.runParallel(ctx, batch.ID, subtasks)
}

// decomposePlanned calls the decomposer and brackets it with timing events.
func (s *Decompose) decomposePlanned(ctx context.Context, batchID, task string) ([]string, error) {
	collector := s.manager.Collector()
	if collector != nil {
		collector.Record(timing.Event{
			Type:    timing.EventDecomposeStarted,
			Tier:    s.tier,
			BatchID: batchID,
			Success: true,
		})
	}

	start := time.Now()
	subs, err := s.decomposer.Decompose(ctx, task)

	if collector != nil {
		ev := timing.Event{
			Type:     timing.EventDecomposeFinished,
			Tier:     s.tier,
			BatchID:  batchID,
			Success:  err == nil,
			Duration: time.Since(start),
		}
		if err != nil {
			ev.Error = err.Error()
		} else {
			ev.Metadata = map[string]string{"subtasks": strconv.Itoa(len(subs))}
		}
		collector.Record(ev)
	}
	return subs, err
}

// runSequential submits one subtask at a time, awaiting each before the
// next. Later subtasks still run after an earlier failure; the aggregate
// reports the failures.
func (s *Decompose) runSequential(ctx context.Context, batchID string, subtasks []string) (*models.Batch, error) {
	for _, task := range subtasks {
		job, err := s.manager.Submit(ctx, manager.SubmitRequest{
			Task:    task,
			Tier:    s.tier,
			BatchID: batchID,
		})
		if err != nil {
			continue // resolved failed by the manager, aggregate picks it up
		}
		if _, err := s.manager.Await(ctx, job.ID); err != nil && ctx.Err() != nil {
			s.manager.SealBatch(batchID)
			b, _ := s.manager.Batch(batchID)
			return b, fmt.Errorf("decompose sequential: %w", ctx.Err())
		}
	}
	if err := s.manager.SealBatch(batchID); err != nil {
		b, _ := s.manager.Batch(batchID)
		return b, err
	}
	return s.manager.AwaitBatch(ctx, batchID)
}

// runParallel submits every subtask up front and awaits the batch.
func (s *Decompose) runParallel(ctx context.Context, batchID string, subtasks []string) (*models.Batch, error) {
	for _, task := range subtasks {
		s.manager.Submit(ctx, manager.SubmitRequest{
			Task:    task,
			Tier:    s.tier,
			BatchID: batchID,
		})
	}
	if err := s.manager.SealBatch(batchID); err != nil {
		b, _ := s.manager.Batch(batchID)
		return b, err
	}
	return s.manager.AwaitBatch(ctx, batchID)
}

var _ Strategy = (*Decompose)(nil)
