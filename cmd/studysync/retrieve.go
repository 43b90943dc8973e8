package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/studysync/internal/config"
	"github.com/hyperengineering/studysync/internal/window"
)

var (
	retrieveFrom      string
	retrieveTo        string
	retrievePatientID string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Request retrieval of a date range without reconciling",
	Long: "Issues one retrieval per date from --from to --to, optionally restricted " +
		"to a single patient. The local store is not consulted.",
	Args: cobra.NoArgs,
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringVar(&retrieveFrom, "from", "",
		"First study date as YYYYMMDD")
	retrieveCmd.Flags().StringVar(&retrieveTo, "to", "",
		"Last study date as YYYYMMDD (default --from)")
	retrieveCmd.Flags().StringVar(&retrievePatientID, "patient-id", "",
		"Restrict retrieval to one patient ID")
	retrieveCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"List the requests without issuing them")
	_ = retrieveCmd.MarkFlagRequired("from")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	to := retrieveTo
	if to == "" {
		to = retrieveFrom
	}
	w, err := window.Between(retrieveFrom, to)
	if err != nil {
		return &config.Error{Key: "--from/--to", Message: "invalid date range", Err: err}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	a := newApp(ctx, cfg, logger, false)
	defer a.Close()

	out, runErr := a.job.Retrieve(ctx, w, retrievePatientID, dryRun)
	if err := printOutcome(cmd.OutOrStdout(), out, jsonOutput); err != nil {
		return err
	}
	return runErr
}
