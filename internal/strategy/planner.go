package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/relay/internal/worker"
)

// planPrompt instructs the worker to act as a planner. The worker must
// answer with a JSON array of subtask strings and nothing else.
const planPrompt = `Decompose the following task into a short list of independent subtasks.
Respond with ONLY a JSON array of strings, one subtask per element.

Task: %s`

// WorkerPlanner decomposes tasks by asking a worker process to plan them.
// The planning call goes through the same launcher as regular jobs but
// outside the token pool: planning is cheap and sequential, and holding a
// token for it would starve the very subtasks it produces.
type WorkerPlanner struct {
	launcher   worker.Launcher
	credential string
	tier       int
}

// NewWorkerPlanner creates a planner running on the given launcher with a
// dedicated credential.
func NewWorkerPlanner(l worker.Launcher, credential string, tier int) *WorkerPlanner {
	return &WorkerPlanner{launcher: l, credential: credential, tier: tier}
}

// Decompose implements Decomposer. The worker's stdout must be a JSON array
// of strings, or an object with a "subtasks" array.
func (p *WorkerPlanner) Decompose(ctx context.Context, task string) ([]string, error) {
	res, err := p.launcher.Launch(ctx, worker.Spec{
		JobID:      "plan-" + uuid.New().String()[:8],
		Tier:       p.tier,
		Task:       fmt.Sprintf(planPrompt, task),
		Credential: p.credential,
	})
	if err != nil {
		return nil, fmt.Errorf("run planner: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("planner exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseSubtasks(res.Stdout)
}

// parseSubtasks extracts the subtask list from planner output.
func parseSubtasks(stdout []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("planner produced no output")
	}

	var subtasks []string
	if err := json.Unmarshal(trimmed, &subtasks); err != nil {
		var wrapped struct {
			Subtasks []string `json:"subtasks"`
		}
		if err2 := json.Unmarshal(trimmed, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse planner output: %w", err)
		}
		subtasks = wrapped.Subtasks
	}

	out := subtasks[:0]
	for _, s := range subtasks {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("planner produced an empty subtask list")
	}
	return out, nil
}

var _ Decomposer = (*WorkerPlanner)(nil)
