package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShayCichocki/relay/internal/manager"
	"github.com/ShayCichocki/relay/pkg/models"
)

// FireAndForget submits tasks without waiting for any of them. Each
// submission runs in its own goroutine, so the strategy cannot block between
// submissions even when the token pool is contended: a starved submission
// stalls its own goroutine, never the loop. Callers that later change their
// mind can still AwaitBatch on the returned batch ID.
type FireAndForget struct {
	manager *manager.Manager
	tier    int
}

// NewFireAndForget creates a fire-and-forget strategy submitting at the
// given tier.
func NewFireAndForget(m *manager.Manager, tier int) *FireAndForget {
	return &FireAndForget{manager: m, tier: tier}
}

// Name implements Strategy.
func (s *FireAndForget) Name() string { return "fire_and_forget" }

// Execute launches one submission goroutine per task and returns
// immediately with the still-pending batch. The batch is sealed in the
// background once every submission has been handed to the manager.
func (s *FireAndForget) Execute(ctx context.Context, tasks ...string) (*models.Batch, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("fire_and_forget: no tasks")
	}

	batch := s.manager.CreateBatch(s.Name(), models.ModeParallel, false, false)

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task string) {
			defer wg.Done()
			s.manager.Submit(ctx, manager.SubmitRequest{
				Task:    task,
				Tier:    s.tier,
				BatchID: batch.ID,
			})
		}(task)
	}
	go func() {
		wg.Wait()
		s.manager.SealBatch(batch.ID)
	}()

	return batch, nil
}

var _ Strategy = (*FireAndForget)(nil)
