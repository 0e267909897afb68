package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a directory for relay",
	Long: `Initialize a directory for use with relay.

This command sets up everything needed to run relay:
  - Verifies the worker CLI is available
  - Creates a starter .relay.yaml project config
  - Creates the run artifact directory

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .relay.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing relay in %s...\n\n", absPath)

	cfg := config.Default()
	if err := checkWorkerCLI(cfg.Worker.Command); err != nil {
		printStatus("⚠", fmt.Sprintf("worker CLI %q not found (set worker.command later)", cfg.Worker.Command), color.FgYellow)
	} else {
		printStatus("✓", fmt.Sprintf("worker CLI %q found", cfg.Worker.Command), color.FgGreen)
	}

	if os.Getenv("RELAY_CREDENTIALS") == "" {
		printStatus("⚠", "RELAY_CREDENTIALS not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "RELAY_CREDENTIALS is set", color.FgGreen)
	}

	configPath := filepath.Join(absPath, ".relay.yaml")
	if initForce {
		os.Remove(configPath)
	}
	if err := config.WriteDefault(configPath); err != nil {
		if !initForce {
			printStatus("✓", ".relay.yaml already exists (use --force to overwrite)", color.FgGreen)
		} else {
			return err
		}
	} else {
		printStatus("✓", "Created .relay.yaml", color.FgGreen)
	}

	runsDir := filepath.Join(absPath, ".relay", "runs")
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", runsDir, err)
	}
	printStatus("✓", "Created .relay/runs artifact directory", color.FgGreen)

	fmt.Printf("\n%s Relay initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Put your worker credentials in .relay.yaml (pool.credentials)")
	fmt.Println("     or: export RELAY_CREDENTIALS=token-a,token-b")
	fmt.Println()
	fmt.Println("  2. Run a batch:")
	fmt.Println("     relay run \"first task\" \"second task\"")
	fmt.Println()
	fmt.Println("  3. Inspect the results:")
	fmt.Println("     relay analyze --timeline")

	return nil
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
