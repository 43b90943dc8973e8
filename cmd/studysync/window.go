package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/studysync/internal/window"
)

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Show the date window a run would reconcile",
	Long: "Prints the window the next run would use. The configured lookback is " +
		"used when configuration loads; otherwise the built-in default applies.",
	Args: cobra.NoArgs,
	RunE: runWindow,
}

func init() {
	addWindowFlags(windowCmd)
}

func runWindow(cmd *cobra.Command, args []string) error {
	configured := window.DefaultLookbackDays
	if cfg, err := loadConfig(); err == nil {
		configured = cfg.Window.LookbackDays
	}

	w, err := resolveWindow(cmd, configured)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"start": w.StartDate(),
			"end":   w.EndDate(),
			"range": w.Range(),
			"days":  len(w.Days()),
		})
	}

	fmt.Fprintf(out, "Start: %s\n", w.StartDate())
	fmt.Fprintf(out, "End:   %s\n", w.EndDate())
	fmt.Fprintf(out, "Range: %s (%d days)\n", w.Range(), len(w.Days()))
	return nil
}
