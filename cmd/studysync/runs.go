package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/studysync/internal/journal"
)

var (
	runsJournalPath string
	runsLimit       int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run journal",
	Long:  "List past runs and show the retrievals and count mismatches each one recorded.",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its retrievals",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsJournalPath, "journal", "",
		"Journal database path (overrides config)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20,
		"Maximum number of runs to list (0 for all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// openJournal opens the journal from --journal or the configured path.
func openJournal() (journal.Journal, error) {
	path := runsJournalPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Journal.Path
	}
	if path == "" {
		return nil, journal.ErrDisabled
	}
	return journal.NewSQLiteJournal(path)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	jr, err := openJournal()
	if err != nil {
		return err
	}
	defer jr.Close()

	runs, err := jr.ListRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"runs":  runs,
			"total": len(runs),
		})
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tWINDOW\tMISSING\tSUCCEEDED\tFAILED\tSTARTED")
	for _, r := range runs {
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s-%s\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.Kind,
			status,
			r.WindowStart, r.WindowEnd,
			r.MissingEntries,
			r.Succeeded,
			r.Failed,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	jr, err := openJournal()
	if err != nil {
		return err
	}
	defer jr.Close()

	detail, err := jr.GetRun(ctx, args[0])
	if errors.Is(err, journal.ErrNotFound) {
		return fmt.Errorf("run %q not found", args[0])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, detail)
	}

	printReport(out, detail.Report)
	if len(detail.Mismatches) > 0 {
		fmt.Fprintln(out)
		printMismatches(out, detail.Mismatches)
	}
	if len(detail.Tasks) > 0 {
		fmt.Fprintln(out)
		printTasks(out, detail.Tasks)
	}
	return nil
}
