package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/internal/manager"
	"github.com/ShayCichocki/relay/internal/recursion"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/strategy"
	"github.com/ShayCichocki/relay/internal/timing"
	"github.com/ShayCichocki/relay/internal/tokenpool"
	"github.com/ShayCichocki/relay/internal/worker"
	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	runMode     string
	runSubmode  string
	runTier     int
	runTimeout  time.Duration
	runFailFast bool
	runExport   string
	runNoWait   bool
)

var runCmd = &cobra.Command{
	Use:   "run <task> [task...]",
	Short: "Run tasks as one orchestrated batch",
	Long: `Run one or more tasks as a batch of worker subprocesses.

Execution modes (--mode):
  sync       Wait for results before exiting (default). A single task wraps
             exactly one job in a single-member batch; passing several tasks
             joins them into one shared batch running in parallel across the
             token pool
  forget     Submit every task without waiting; results are still recorded
  decompose  Ask a worker to split each task into subtasks first, then run
             the subtasks (--submode sequential|parallel)

Each job leases one credential from the pool for its whole lifetime, so
genuine parallelism is bounded by pool size. The run's full event log,
derived report and timeline are exported afterwards and, if enabled,
archived to SQLite for later 'relay analyze'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTasks,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "sync", "Execution mode: sync, forget, or decompose")
	runCmd.Flags().StringVar(&runSubmode, "submode", "sequential", "Decompose submode: sequential or parallel")
	runCmd.Flags().IntVar(&runTier, "tier", 0, "Recursion tier to submit at (0 = root)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-job timeout (overrides config)")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Resolve the batch failed on the first member failure")
	runCmd.Flags().StringVar(&runExport, "export", "", "Export directory for run artifacts (overrides config)")
	runCmd.Flags().BoolVar(&runNoWait, "no-wait", false, "With --mode forget: exit without waiting for results")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runTimeout > 0 {
		cfg.Timeouts.Job = runTimeout
	}
	if runExport != "" {
		cfg.Timing.ExportDir = runExport
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := checkWorkerCLI(cfg.Worker.Command); err != nil {
		return err
	}

	logger, err := logging.NewDebugLogger(cfg.DebugLog)
	if err != nil {
		return err
	}
	defer logger.Close()

	collector := timing.NewCollectorWithRetention(cfg.Timing.Retention)
	pool, err := tokenpool.New(cfg.Pool.Credentials, collector)
	if err != nil {
		return err
	}
	launcher := worker.NewCLILauncher(cfg.Worker.Command, cfg.Worker.Args, cfg.Worker.TokenEnv, collector)

	mgr := manager.New(manager.Config{
		Pool:           pool,
		Guard:          recursion.New(cfg.Recursion.MaxDepth, cfg.Recursion.MaxPerDepth),
		Launcher:       launcher,
		Collector:      collector,
		Logger:         logger,
		DefaultTimeout: cfg.Timeouts.Job,
		AcquireBudget:  cfg.Pool.AcquireBudget,
	})

	strat, err := buildStrategy(mgr, launcher, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Batch)
	defer cancel()

	startedAt := time.Now()
	fmt.Printf("Running %d task(s) with %d token(s), mode=%s\n\n", len(args), pool.Size(), runMode)

	batch, execErr := strat.Execute(ctx, args...)
	if batch != nil && !batch.State.Terminal() && !(runMode == "forget" && runNoWait) {
		// Fire-and-forget returns before resolution; wait here so the run's
		// artifacts cover the whole batch before the process exits.
		if resolved, err := mgr.AwaitBatch(ctx, batch.ID); err == nil {
			batch = resolved
		}
	}

	if batch != nil {
		printBatch(mgr, batch)
	}

	runID := uuid.New().String()[:8]
	if err := exportRun(cfg, collector, runID, args[0], startedAt); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if execErr != nil {
		return execErr
	}
	if batch != nil && batch.State == models.BatchStateFailed {
		return fmt.Errorf("batch %s failed", batch.ID)
	}
	return nil
}

// buildStrategy wires the strategy selected by --mode.
func buildStrategy(mgr *manager.Manager, launcher worker.Launcher, cfg *config.Config) (strategy.Strategy, error) {
	switch runMode {
	case "sync":
		s := strategy.NewSync(mgr, runTier)
		s.SetFailFast(runFailFast)
		return s, nil
	case "forget":
		return strategy.NewFireAndForget(mgr, runTier), nil
	case "decompose":
		// The planner reuses the first credential outside the pool so the
		// planning call cannot starve the subtasks it produces.
		planner := strategy.NewWorkerPlanner(launcher, cfg.Pool.Credentials[0], runTier)
		switch runSubmode {
		case "sequential":
			return strategy.NewDecompose(mgr, planner, runTier), nil
		case "parallel":
			return strategy.NewDecomposeParallel(mgr, planner, runTier), nil
		default:
			return nil, fmt.Errorf("unknown submode %q (want sequential or parallel)", runSubmode)
		}
	default:
		return nil, fmt.Errorf("unknown mode %q (want sync, forget, or decompose)", runMode)
	}
}

// printBatch renders the batch outcome with per-job lines.
func printBatch(mgr *manager.Manager, batch *models.Batch) {
	fmt.Printf("Batch %s (%s): %s\n", batch.ID, batch.Label(), colorState(string(batch.State)))
	if batch.Err != nil {
		fmt.Printf("  %s %s\n", color.RedString("✗"), batch.Err.Message)
	}

	for _, jobID := range batch.JobIDs {
		job, err := mgr.Job(jobID)
		if err != nil {
			continue
		}
		switch job.State {
		case models.JobStateCompleted:
			fmt.Printf("  %s %s  %-10s %s\n", color.GreenString("✓"), job.ID, job.Duration().Round(time.Millisecond), job.Task)
		case models.JobStateFailed:
			fmt.Printf("  %s %s  %s: %s\n", color.RedString("✗"), job.ID, job.Err.Kind, job.Task)
		default:
			fmt.Printf("  %s %s  %-10s %s\n", color.YellowString("…"), job.ID, job.State, job.Task)
		}
	}
	fmt.Println()
}

func colorState(s string) string {
	switch s {
	case "completed":
		return color.GreenString(s)
	case "failed":
		return color.RedString(s)
	default:
		return color.YellowString(s)
	}
}

// exportRun writes the run artifacts and archives the run if enabled.
func exportRun(cfg *config.Config, collector *timing.Collector, runID, label string, startedAt time.Time) error {
	events := collector.Snapshot()

	exportDir := filepath.Join(cfg.Timing.ExportDir, runID)
	if err := timing.ExportAll(exportDir, events); err != nil {
		return fmt.Errorf("export run artifacts: %w", err)
	}
	fmt.Printf("Artifacts: %s (%d events", exportDir, len(events))
	if dropped := collector.Dropped(); dropped > 0 {
		fmt.Printf(", %d dropped by retention cap", dropped)
	}
	fmt.Println(")")

	if !cfg.Archive.Enabled {
		return nil
	}
	dbPath := cfg.Archive.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}

	finished := time.Now()
	run := state.Run{ID: runID, Label: label, StartedAt: startedAt, FinishedAt: &finished}
	if err := db.ArchiveRun(run, events); err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	fmt.Printf("Archived as run %s\n", runID)
	return nil
}
