package worker

import (
	"context"
	"sync"
	"time"
)

// FakeLauncher simulates worker invocations for tests: configurable latency,
// exit code and payload, plus a concurrency high-water mark so tests can
// prove (or disprove) that invocations genuinely overlapped.
type FakeLauncher struct {
	mu sync.Mutex

	// Latency is how long each simulated worker runs.
	Latency time.Duration
	// ExitCode is the simulated exit status.
	ExitCode int
	// Payload is the simulated stdout; defaults to a minimal JSON object.
	Payload []byte
	// Stderr is the simulated standard error output.
	Stderr string
	// SpawnErr, when set, is returned before any simulated work happens.
	SpawnErr error
	// Hook, when set, overrides all other fields for a given spec.
	Hook func(spec Spec) (*Result, error)

	calls         []Spec
	running       int
	maxConcurrent int
}

// Launch simulates one worker run. Cancellation behaves like a killed
// process: the call returns promptly with the ctx error.
func (f *FakeLauncher) Launch(ctx context.Context, spec Spec) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	if f.SpawnErr != nil {
		err := f.SpawnErr
		f.mu.Unlock()
		return nil, err
	}
	hook := f.Hook
	latency := f.Latency
	exitCode := f.ExitCode
	payload := f.Payload
	stderr := f.Stderr
	f.running++
	if f.running > f.maxConcurrent {
		f.maxConcurrent = f.running
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if hook != nil {
		return hook(spec)
	}

	start := time.Now()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if payload == nil {
		payload = []byte(`{"ok":true}`)
	}
	return &Result{
		Stdout:   payload,
		Stderr:   stderr,
		ExitCode: exitCode,
		Pid:      1,
		Duration: time.Since(start),
	}, nil
}

// Calls returns the specs of every Launch call so far.
func (f *FakeLauncher) Calls() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Spec, len(f.calls))
	copy(out, f.calls)
	return out
}

// MaxConcurrent returns the highest number of simultaneously running
// simulated workers observed.
func (f *FakeLauncher) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

// Verify FakeLauncher implements Launcher at compile time.
var _ Launcher = (*FakeLauncher)(nil)
