package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// checkWorkerCLI verifies that the configured worker command is available in
// PATH. Returns an error with setup instructions if not found.
func checkWorkerCLI(command string) error {
	_, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("worker command %q not found in PATH\n\n"+
			"Relay spawns one worker process per job and needs the worker CLI\n"+
			"installed. Set worker.command in .relay.yaml (or RELAY_WORKER_COMMAND)\n"+
			"to the binary you want each job to run.", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Recursive multi-worker task orchestrator",
	Long: `Relay runs batches of tasks across a fixed pool of worker credentials,
with each task executed by its own worker CLI subprocess.

Core capabilities:
- Leases each worker credential exclusively via a FIFO token pool
- Bounds recursive spawning by depth and per-depth concurrency
- Executes batches sync, fire-and-forget, or via task decomposition
- Records every lifecycle event and proves (or disproves) that
  parallel batches actually overlapped in wall-clock time`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}
