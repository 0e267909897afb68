package strategy

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/relay/internal/manager"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Sync submits every task up front and blocks until the whole batch
// resolves. A single task wraps exactly one job in a single-member batch;
// extra tasks join the same batch and run concurrently, bounded only by the
// token pool, so a sync batch is where parallel speedup shows up in the
// timing report.
type Sync struct {
	manager  *manager.Manager
	tier     int
	failFast bool
}

// NewSync creates a sync strategy submitting at the given tier.
func NewSync(m *manager.Manager, tier int) *Sync {
	return &Sync{manager: m, tier: tier}
}

// SetFailFast makes the batch resolve failed on the first member failure
// instead of collecting every outcome. Siblings are not cancelled; only the
// aggregate resolves early.
func (s *Sync) SetFailFast(on bool) {
	s.failFast = on
}

// Name implements Strategy.
func (s *Sync) Name() string { return "sync" }

// Execute submits all tasks, seals the batch and awaits resolution. Member
// failures do not abort siblings; the returned batch carries the aggregate
// outcome and Execute only errors when ctx expires before resolution.
func (s *Sync) Execute(ctx context.Context, tasks ...string) (*models.Batch, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("sync: no tasks")
	}

	batch := s.manager.CreateBatch(s.Name(), models.ModeParallel, false, s.failFast)
	for _, task := range tasks {
		// Submission errors resolve the member failed inside the manager;
		// the aggregate picks them up, so the loop keeps going.
		s.manager.Submit(ctx, manager.SubmitRequest{
			Task:    task,
			Tier:    s.tier,
			BatchID: batch.ID,
		})
	}
	if err := s.manager.SealBatch(batch.ID); err != nil {
		return batch, err
	}
	return s.manager.AwaitBatch(ctx, batch.ID)
}

var _ Strategy = (*Sync)(nil)
