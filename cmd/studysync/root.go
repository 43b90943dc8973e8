package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/studysync/internal/archive"
	"github.com/hyperengineering/studysync/internal/config"
	"github.com/hyperengineering/studysync/internal/dispatch"
	"github.com/hyperengineering/studysync/internal/job"
	"github.com/hyperengineering/studysync/internal/journal"
	"github.com/hyperengineering/studysync/internal/metrics"
	"github.com/hyperengineering/studysync/internal/store"
	"github.com/hyperengineering/studysync/internal/window"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath    string
	jsonOutput    bool
	dryRun        bool
	referenceDate string
	lookbackDays  int
)

// Collaborator constructors, replaced in tests.
var (
	newRunner = func() archive.Runner { return archive.ExecRunner{} }
	openLocal = openPostgres
)

var rootCmd = &cobra.Command{
	Use:   "studysync",
	Short: "Retrieve archive studies missing from the local metadata store",
	Long: "Queries the remote DICOM archive for studies in a trailing date window, " +
		"compares them with the local metadata store and requests retrieval of every " +
		"study the store does not hold.",
	Version:      Version,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runReconcile,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides STUDYSYNC_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Report missing studies without retrieving them")
	addWindowFlags(rootCmd)

	rootCmd.AddCommand(windowCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(runsCmd)
}

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&referenceDate, "reference-date", "",
		"Last day of the window as YYYYMMDD (default today)")
	cmd.Flags().IntVar(&lookbackDays, "lookback-days", window.DefaultLookbackDays,
		"Days before the reference date to include (default from config)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	w, err := resolveWindow(cmd, cfg.Window.LookbackDays)
	if err != nil {
		return err
	}

	a := newApp(ctx, cfg, logger, true)
	defer a.Close()

	out, runErr := a.job.Reconcile(ctx, w, dryRun)
	if err := printOutcome(cmd.OutOrStdout(), out, jsonOutput); err != nil {
		return err
	}
	return runErr
}

// loadConfig loads configuration from --config when given, otherwise from
// the default location.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// resolveWindow applies --reference-date and --lookback-days on top of the
// configured lookback.
func resolveWindow(cmd *cobra.Command, configured int) (window.Window, error) {
	ref := time.Now()
	if referenceDate != "" {
		t, err := window.ParseDate(referenceDate)
		if err != nil {
			return window.Window{}, &config.Error{Key: "--reference-date", Message: "must be YYYYMMDD", Err: err}
		}
		ref = t
	}

	days := configured
	if cmd.Flags().Changed("lookback-days") {
		days = lookbackDays
	}

	w, err := window.Select(ref, days)
	if err != nil {
		return window.Window{}, &config.Error{Key: "--lookback-days", Message: "invalid", Err: err}
	}
	return w, nil
}

// newLogger builds the run logger. An empty file logs to fallback.
func newLogger(cfg config.LogConfig, fallback io.Writer) (*slog.Logger, func(), error) {
	out := fallback
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app wires configuration to a Job.
type app struct {
	job     *job.Job
	closers []func()
}

// newApp builds every collaborator. When withLocal is set the metadata store
// is opened; a store that cannot be reached degrades the run instead of
// failing it. A journal that cannot be opened is replaced by a no-op.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withLocal bool) *app {
	a := &app{}

	params := archiveParams(cfg.Archive)
	runner := newRunner()
	retriever := archive.NewRetriever(params, runner, logger)
	disp := dispatch.New(retriever, dispatch.Policy{
		MaxAttempts: cfg.Retrieval.MaxAttempts,
		Backoff:     time.Duration(cfg.Retrieval.Backoff),
		MaxBackoff:  time.Duration(cfg.Retrieval.MaxBackoff),
		MinInterval: time.Duration(cfg.Retrieval.MinInterval),
	}, logger)

	var local job.LocalCatalog = job.UnavailableStore{Err: store.ErrUnavailable}
	if withLocal {
		l, closeLocal, err := openLocal(ctx, cfg.Store)
		if err != nil {
			logger.Warn("local store unavailable, treating local catalog as empty",
				"component", "store",
				"action", "connect_failed",
				"host", cfg.Store.Host,
				"error", err,
			)
			local = job.UnavailableStore{Err: err}
		} else {
			local = l
			a.closers = append(a.closers, closeLocal)
		}
	}

	jr, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logger.Warn("run journal unavailable",
			"component", "journal",
			"action", "open_failed",
			"path", cfg.Journal.Path,
			"error", err,
		)
		jr = journal.NoopJournal{}
	}
	a.closers = append(a.closers, func() { jr.Close() })

	a.job = job.New(job.Deps{
		Remote:     archive.NewCatalogClient(params, runner, logger),
		Local:      local,
		Table:      cfg.Store.Table,
		Dispatcher: disp,
		Journal:    jr,
		Metrics:    metrics.New(),
		Pusher:     metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job),
		Logger:     logger,
	})
	return a
}

// Close releases every opened resource in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func archiveParams(c config.ArchiveConfig) archive.Params {
	return archive.Params{
		Host:            c.Host,
		Port:            c.Port,
		AETitle:         c.AETitle,
		CallingAETitle:  c.CallingAETitle,
		MoveDestination: c.MoveDestination,
		ReceivePort:     c.ReceivePort,
		OutputDir:       c.OutputDir,
		QueryLevel:      c.QueryLevel,
		SOPClassUID:     c.SOPClassUID,
		Modality:        c.Modality,
		FindSCUPath:     c.FindSCUPath,
		MoveSCUPath:     c.MoveSCUPath,
		Timeout:         time.Duration(c.Timeout),
	}
}

func openPostgres(ctx context.Context, c config.StoreConfig) (job.LocalCatalog, func(), error) {
	s, err := store.NewPostgresStore(ctx, store.Options{
		DSN:          c.DSN(),
		QueryTimeout: time.Duration(c.QueryTimeout),
	})
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
