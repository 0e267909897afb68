package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/timing"
)

var (
	analyzeEvents   string
	analyzeTimeline bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [run-id]",
	Short: "Analyze a recorded run",
	Long: `Analyze the event log of a past run: per-batch parallelism proofs,
token utilization and exclusivity, bottlenecks, and success rates.

The run is loaded from the SQLite archive by ID, or from an exported
events.json with --events. With no argument, the most recent archived run
is analyzed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeEvents, "events", "", "Analyze an exported events.json instead of the archive")
	analyzeCmd.Flags().BoolVar(&analyzeTimeline, "timeline", false, "Also print the full chronological timeline")
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List archived runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openArchive()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(20)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No archived runs.")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("%s  %s  %5d events  %s\n",
				run.ID, run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Events, run.Label)
		}
		return nil
	},
}

func openArchive() (*state.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Archive.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var events []timing.Event

	switch {
	case analyzeEvents != "":
		var err error
		events, err = timing.ReadEvents(analyzeEvents)
		if err != nil {
			return err
		}
	default:
		db, err := openArchive()
		if err != nil {
			return err
		}
		defer db.Close()

		runID := ""
		if len(args) > 0 {
			runID = args[0]
		} else {
			runs, err := db.ListRuns(1)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("no archived runs; run something first or pass --events")
			}
			runID = runs[0].ID
			fmt.Printf("Analyzing most recent run %s\n\n", runID)
		}
		events, err = db.LoadEvents(runID)
		if err != nil {
			return err
		}
	}

	if len(events) == 0 {
		return fmt.Errorf("no events to analyze")
	}

	analyzer := timing.NewAnalyzer(events)
	printReport(analyzer.Report())

	if analyzeTimeline {
		fmt.Println("Timeline:")
		fmt.Print(timing.FormatTimeline(analyzer.Timeline()))
	}
	return nil
}

// printReport renders the derived analysis for human consumption.
func printReport(report *timing.Report) {
	bold := color.New(color.Bold)

	bold.Println("Batches")
	for _, b := range report.Batches {
		verdict := color.YellowString("sequential")
		if b.Overlapped {
			verdict = color.GreenString("parallel")
		}
		fmt.Printf("  %s %-22s %d jobs, %d overlapping pairs (%s)\n",
			b.BatchID, b.Label, b.Jobs, b.OverlappingPairs, verdict)
		fmt.Printf("    wall clock %s vs summed durations %s\n",
			b.WallClock.Round(time.Millisecond), b.SumDurations.Round(time.Millisecond))
	}

	bold.Println("\nTokens")
	for _, t := range report.Tokens {
		fmt.Printf("  %s  %d assignments, held %s total\n",
			t.TokenID, t.Assignments, t.HeldFor.Round(time.Millisecond))
	}
	if len(report.ExclusivityViolations) == 0 {
		fmt.Printf("  %s no exclusivity violations\n", color.GreenString("✓"))
	} else {
		for _, v := range report.ExclusivityViolations {
			fmt.Printf("  %s %s\n", color.RedString("✗"), v)
		}
	}

	if len(report.Bottlenecks) > 0 {
		bold.Println("\nSlowest operations")
		limit := len(report.Bottlenecks)
		if limit > 5 {
			limit = 5
		}
		for _, b := range report.Bottlenecks[:limit] {
			ref := b.JobID
			if ref == "" {
				ref = b.BatchID
			}
			fmt.Printf("  %-20s %-10s %s\n", b.Type, ref, b.Duration.Round(time.Millisecond))
		}
	}

	bold.Println("\nSuccess by tier")
	tiers := make([]string, 0, len(report.SuccessByTier))
	for tier := range report.SuccessByTier {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool {
		a, _ := strconv.Atoi(tiers[i])
		b, _ := strconv.Atoi(tiers[j])
		return a < b
	})
	for _, tier := range tiers {
		rate := report.SuccessByTier[tier]
		fmt.Printf("  tier %s: %d/%d (%.0f%%)\n", tier, rate.Succeeded, rate.Total, rate.Value*100)
	}
	fmt.Println()
}
