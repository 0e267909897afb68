package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/manager"
	"github.com/ShayCichocki/relay/internal/recursion"
	"github.com/ShayCichocki/relay/internal/timing"
	"github.com/ShayCichocki/relay/internal/tokenpool"
	"github.com/ShayCichocki/relay/internal/worker"
	"github.com/ShayCichocki/relay/pkg/models"
)

type testRig struct {
	manager   *manager.Manager
	fake      *worker.FakeLauncher
	collector *timing.Collector
}

func newTestRig(t *testing.T, tokens int, fake *worker.FakeLauncher) *testRig {
	t.Helper()

	collector := timing.NewCollector()
	creds := make([]string, tokens)
	for i := range creds {
		creds[i] = "cred"
	}
	pool, err := tokenpool.New(creds, collector)
	if err != nil {
		t.Fatalf("tokenpool.New: %v", err)
	}

	m := manager.New(manager.Config{
		Pool:           pool,
		Guard:          recursion.New(3, 0),
		Launcher:       fake,
		Collector:      collector,
		DefaultTimeout: 10 * time.Second,
	})
	return &testRig{manager: m, fake: fake, collector: collector}
}

func (r *testRig) analyzer() *timing.Analyzer {
	return timing.NewAnalyzer(r.collector.Snapshot())
}

func staticPlanner(subtasks ...string) Decomposer {
	return DecomposerFunc(func(ctx context.Context, task string) ([]string, error) {
		return subtasks, nil
	})
}

func TestSyncRunsMembersInParallel(t *testing.T) {
	fake := &worker.FakeLauncher{Latency: 150 * time.Millisecond}
	rig := newTestRig(t, 3, fake)

	start := time.Now()
	batch, err := NewSync(rig.manager, 0).Execute(context.Background(), "a", "b", "c")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wall := time.Since(start)

	if batch.State != models.BatchStateCompleted {
		t.Fatalf("State = %s, want completed", batch.State)
	}
	// 3 x 150ms in parallel should land near 150ms, not near 450ms.
	if wall > 350*time.Millisecond {
		t.Errorf("wall clock %s suggests sequential execution", wall)
	}
	if fake.MaxConcurrent() < 2 {
		t.Errorf("MaxConcurrent() = %d, want >= 2", fake.MaxConcurrent())
	}

	proof := rig.analyzer().OverlapProof(batch.ID)
	if !proof.Overlapped {
		t.Error("overlap proof reports no overlapping member pair")
	}
	if proof.Jobs != 3 {
		t.Errorf("proof.Jobs = %d, want 3", proof.Jobs)
	}
	if proof.WallClock >= proof.SumDurations {
		t.Errorf("WallClock %s should beat SumDurations %s under parallelism",
			proof.WallClock, proof.SumDurations)
	}
}

func TestSyncMemberFailureDoesNotAbortSiblings(t *testing.T) {
	fake := &worker.FakeLauncher{
		Hook: func(spec worker.Spec) (*worker.Result, error) {
			if spec.Task == "bad" {
				return &worker.Result{ExitCode: 1, Stderr: "boom"}, nil
			}
			return &worker.Result{Stdout: []byte(`{"ok":true}`)}, nil
		},
	}
	rig := newTestRig(t, 2, fake)

	batch, err := NewSync(rig.manager, 0).Execute(context.Background(), "bad", "good")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if batch.State != models.BatchStateFailed {
		t.Errorf("State = %s, want failed", batch.State)
	}
	if len(fake.Calls()) != 2 {
		t.Errorf("sibling should still run: %d worker calls", len(fake.Calls()))
	}
}

func TestFireAndForgetReturnsWithoutWaiting(t *testing.T) {
	fake := &worker.FakeLauncher{Latency: 200 * time.Millisecond}
	rig := newTestRig(t, 1, fake)

	start := time.Now()
	batch, err := NewFireAndForget(rig.manager, 0).Execute(context.Background(), "a", "b", "c")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Execute blocked for %s; fire-and-forget must not wait", elapsed)
	}
	if batch.State.Terminal() {
		t.Errorf("batch already terminal on return: %s", batch.State)
	}

	// The work still happens; a later AwaitBatch observes resolution.
	resolved, err := rig.manager.AwaitBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("AwaitBatch: %v", err)
	}
	if resolved.State != models.BatchStateCompleted {
		t.Errorf("State = %s, want completed", resolved.State)
	}
	if len(resolved.JobIDs) != 3 {
		t.Errorf("JobIDs = %v, want 3 members", resolved.JobIDs)
	}
}

func TestFireAndForgetParallelismProof(t *testing.T) {
	// 3 tasks at 150ms each across 3 tokens: genuine fan-out means at
	// least two intervals overlap and the wall clock lands near 150ms,
	// not near the 450ms a serialized loop would take.
	fake := &worker.FakeLauncher{Latency: 150 * time.Millisecond}
	rig := newTestRig(t, 3, fake)

	batch, err := NewFireAndForget(rig.manager, 0).Execute(context.Background(), "a", "b", "c")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	resolved, err := rig.manager.AwaitBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("AwaitBatch: %v", err)
	}
	if resolved.State != models.BatchStateCompleted {
		t.Fatalf("State = %s, want completed", resolved.State)
	}

	proof := rig.analyzer().OverlapProof(batch.ID)
	if proof.OverlappingPairs < 1 {
		t.Error("at least two member intervals must overlap")
	}
	if proof.WallClock > 300*time.Millisecond {
		t.Errorf("wall clock %s is closer to serialized 450ms than to 150ms", proof.WallClock)
	}
}

func TestFireAndForgetContendedPoolDoesNotBlockSubmission(t *testing.T) {
	// One token, many tasks: every submission after the first has to wait
	// for a token, but Execute must still return immediately.
	fake := &worker.FakeLauncher{Latency: 50 * time.Millisecond}
	rig := newTestRig(t, 1, fake)

	start := time.Now()
	batch, err := NewFireAndForget(rig.manager, 0).Execute(context.Background(), "a", "b", "c", "d", "e")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Execute blocked for %s under pool contention", elapsed)
	}

	resolved, err := rig.manager.AwaitBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("AwaitBatch: %v", err)
	}
	if resolved.State != models.BatchStateCompleted {
		t.Errorf("State = %s, want completed", resolved.State)
	}
	if violations := rig.analyzer().TokenExclusivityViolations(); len(violations) != 0 {
		t.Errorf("exclusivity violations: %v", violations)
	}
}

func TestDecomposeSequentialRunsOneAtATime(t *testing.T) {
	fake := &worker.FakeLauncher{Latency: 60 * time.Millisecond}
	rig := newTestRig(t, 3, fake)

	batch, err := NewDecompose(rig.manager, staticPlanner("s1", "s2", "s3"), 1).
		Execute(context.Background(), "big task")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if batch.State != models.BatchStateCompleted {
		t.Fatalf("State = %s, want completed", batch.State)
	}
	if batch.Label() != "decomposed-sequential" {
		t.Errorf("Label() = %s", batch.Label())
	}
	if fake.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent() = %d, want 1 for sequential submode", fake.MaxConcurrent())
	}

	proof := rig.analyzer().OverlapProof(batch.ID)
	if proof.Overlapped {
		t.Error("sequential submode must not overlap members")
	}
	if proof.WallClock < proof.SumDurations {
		t.Errorf("sequential wall clock %s should be >= sum of durations %s",
			proof.WallClock, proof.SumDurations)
	}
}

func TestDecomposeParallelOverlapsMembers(t *testing.T) {
	fake := &worker.FakeLauncher{Latency: 120 * time.Millisecond}
	rig := newTestRig(t, 3, fake)

	batch, err := NewDecomposeParallel(rig.manager, staticPlanner("s1", "s2", "s3"), 1).
		Execute(context.Background(), "big task")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if batch.Label() != "decomposed-parallel" {
		t.Errorf("Label() = %s", batch.Label())
	}

	proof := rig.analyzer().OverlapProof(batch.ID)
	if !proof.Overlapped {
		t.Error("parallel submode should overlap members")
	}
	if proof.Label != "decomposed-parallel" {
		t.Errorf("proof.Label = %s", proof.Label)
	}
}

func TestDecomposeFailureAbortsBeforeJobs(t *testing.T) {
	fake := &worker.FakeLauncher{}
	rig := newTestRig(t, 2, fake)

	planner := DecomposerFunc(func(ctx context.Context, task string) ([]string, error) {
		return nil, errors.New("planner returned garbage")
	})

	batch, err := NewDecompose(rig.manager, planner, 0).Execute(context.Background(), "big task")
	if err == nil {
		t.Fatal("expected decomposition error")
	}
	if batch.State != models.BatchStateFailed {
		t.Errorf("State = %s, want failed", batch.State)
	}
	if batch.Err == nil || batch.Err.Kind != models.ErrKindDecomposition {
		t.Errorf("Err = %+v, want decomposition_failure", batch.Err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("no jobs should be submitted after a decomposition failure; got %d calls", len(fake.Calls()))
	}
}

func TestDecomposeEmptyPlanFailsBatch(t *testing.T) {
	rig := newTestRig(t, 1, &worker.FakeLauncher{})

	batch, err := NewDecompose(rig.manager, staticPlanner(), 0).Execute(context.Background(), "task")
	if err == nil {
		t.Fatal("expected error for empty plan")
	}
	if batch.State != models.BatchStateFailed {
		t.Errorf("State = %s, want failed", batch.State)
	}
}

func TestDecomposeEmitsPlanningEvents(t *testing.T) {
	rig := newTestRig(t, 1, &worker.FakeLauncher{})

	batch, err := NewDecompose(rig.manager, staticPlanner("s1", "s2"), 0).
		Execute(context.Background(), "task")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var started, finished bool
	for _, e := range rig.collector.Snapshot() {
		if e.BatchID != batch.ID {
			continue
		}
		switch e.Type {
		case timing.EventDecomposeStarted:
			started = true
		case timing.EventDecomposeFinished:
			finished = true
			if e.Metadata["subtasks"] != "2" {
				t.Errorf("subtasks metadata = %s, want 2", e.Metadata["subtasks"])
			}
		}
	}
	if !started || !finished {
		t.Error("expected decompose_started and decompose_finished events")
	}
}

func TestConcurrentSyncRootsShareThePool(t *testing.T) {
	fake := &worker.FakeLauncher{Latency: 40 * time.Millisecond}
	rig := newTestRig(t, 2, fake)

	// Two independent sync roots, one task each: two independent batches,
	// each with one completed member and no recursion errors.
	var wg sync.WaitGroup
	results := make([]*models.Batch, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := NewSync(rig.manager, 0).Execute(context.Background(), fmt.Sprintf("root-%d", i))
			if err != nil {
				t.Errorf("Execute root %d: %v", i, err)
				return
			}
			results[i] = b
		}(i)
	}
	wg.Wait()

	for i, b := range results {
		if b == nil || b.State != models.BatchStateCompleted {
			t.Errorf("root %d did not complete: %+v", i, b)
			continue
		}
		if len(b.JobIDs) != 1 {
			t.Errorf("root %d: JobIDs = %v, want exactly one member", i, b.JobIDs)
		}
	}
	for _, e := range rig.collector.Snapshot() {
		if e.Type == timing.EventJobFailed {
			t.Errorf("unexpected failure event: %+v", e)
		}
	}
	if violations := rig.analyzer().TokenExclusivityViolations(); len(violations) != 0 {
		t.Errorf("exclusivity violations across roots: %v", violations)
	}
}

func TestWorkerPlannerParsesArrays(t *testing.T) {
	fake := &worker.FakeLauncher{Payload: []byte(`["write tests", "fix docs"]`)}

	subs, err := NewWorkerPlanner(fake, "cred", 0).Decompose(context.Background(), "cleanup")
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(subs) != 2 || subs[0] != "write tests" {
		t.Errorf("subtasks = %v", subs)
	}
	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Credential != "cred" {
		t.Errorf("planner call = %+v", calls)
	}
}

func TestWorkerPlannerParsesWrappedObject(t *testing.T) {
	fake := &worker.FakeLauncher{Payload: []byte(`{"subtasks": ["a", " ", "b"]}`)}

	subs, err := NewWorkerPlanner(fake, "cred", 0).Decompose(context.Background(), "cleanup")
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("blank entries should be dropped: %v", subs)
	}
}

func TestWorkerPlannerRejectsBadOutput(t *testing.T) {
	cases := map[string]*worker.FakeLauncher{
		"not json":     {Payload: []byte("sure, here are the subtasks:")},
		"empty output": {Payload: []byte("  ")},
		"empty array":  {Payload: []byte("[]")},
		"nonzero exit": {ExitCode: 2, Stderr: "rate limited"},
	}
	for name, fake := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewWorkerPlanner(fake, "cred", 0).Decompose(context.Background(), "task"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
