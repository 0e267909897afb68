// Package strategy implements the execution strategies that drive job
// submission: sync (submit all, await all), fire-and-forget (submit and walk
// away) and decompose (plan subtasks, then run them sequentially or in
// parallel). Strategies never touch workers or tokens directly; all
// lifecycle work goes through the job manager.
package strategy

import (
	"context"

	"github.com/ShayCichocki/relay/pkg/models"
)

// Strategy executes a set of tasks as one batch.
type Strategy interface {
	// Name identifies the strategy in batch records and reports.
	Name() string
	// Execute runs the given tasks under this strategy's submission and
	// waiting discipline and returns the resulting batch. Whether the batch
	// is already resolved on return depends on the strategy.
	Execute(ctx context.Context, tasks ...string) (*models.Batch, error)
}
