package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/ShayCichocki/relay/internal/timing"
)

// CLILauncher spawns the real worker CLI. The command and base arguments come
// from configuration; the task is appended as `-p <task>` together with
// `--output-format json`, and the credential rides in on tokenEnv.
type CLILauncher struct {
	command   string
	baseArgs  []string
	tokenEnv  string
	dir       string
	collector *timing.Collector
}

// NewCLILauncher creates a launcher for the given worker command.
// tokenEnv defaults to DefaultTokenEnv when empty.
func NewCLILauncher(command string, baseArgs []string, tokenEnv string, collector *timing.Collector) *CLILauncher {
	if tokenEnv == "" {
		tokenEnv = DefaultTokenEnv
	}
	return &CLILauncher{
		command:   command,
		baseArgs:  baseArgs,
		tokenEnv:  tokenEnv,
		collector: collector,
	}
}

// SetDir sets the working directory for spawned workers.
func (l *CLILauncher) SetDir(dir string) {
	l.dir = dir
}

// Launch runs the worker for spec and blocks until exit or ctx cancellation.
// ctx cancellation kills the process via exec.CommandContext.
func (l *CLILauncher) Launch(ctx context.Context, spec Spec) (*Result, error) {
	args := append([]string{}, l.baseArgs...)
	args = append(args, "--output-format", "json", "-p", spec.Task)

	cmd := exec.CommandContext(ctx, l.command, args...)
	// Workers fork their own children. Put the whole tree in one process
	// group and kill the group on ctx cancellation; killing only the direct
	// child would leave a descendant holding the stdout/stderr pipes and
	// stall Wait until the worker's natural exit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// Bound the pipe drain in case a process outside the group inherited
	// them; Wait returns with ErrWaitDelay instead of blocking forever.
	cmd.WaitDelay = 3 * time.Second
	if l.dir != "" {
		cmd.Dir = l.dir
	}
	cmd.Env = append(os.Environ(), l.tokenEnv+"="+spec.Credential)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker %q: %w", l.command, err)
	}

	pid := cmd.Process.Pid
	l.record(timing.Event{
		Type:    timing.EventSubprocessSpawned,
		JobID:   spec.JobID,
		Tier:    spec.Tier,
		Success: true,
		Metadata: map[string]string{
			"pid":     strconv.Itoa(pid),
			"command": l.command,
		},
	})

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Pid:      pid,
		Duration: elapsed,
	}

	l.record(timing.Event{
		Type:     timing.EventSubprocessExited,
		JobID:    spec.JobID,
		Tier:     spec.Tier,
		Success:  res.ExitCode == 0,
		Duration: elapsed,
		Metadata: map[string]string{
			"pid":       strconv.Itoa(pid),
			"exit_code": strconv.Itoa(res.ExitCode),
		},
	})

	// A kill triggered by ctx is reported to the caller as the ctx error so
	// the job manager can classify it as a timeout rather than a worker
	// failure.
	if ctx.Err() != nil {
		return res, fmt.Errorf("worker killed: %w", ctx.Err())
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); ok {
			return res, nil // nonzero exit is an outcome, not a launch error
		}
		return res, fmt.Errorf("wait for worker: %w", waitErr)
	}
	return res, nil
}

func (l *CLILauncher) record(e timing.Event) {
	if l.collector != nil {
		l.collector.Record(e)
	}
}

// Verify CLILauncher implements Launcher at compile time.
var _ Launcher = (*CLILauncher)(nil)
