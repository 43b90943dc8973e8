// Package job runs one reconciliation: query both catalogs for a window,
// compute what the local store is missing and request retrieval of it.
package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/studysync/internal/archive"
	"github.com/hyperengineering/studysync/internal/dispatch"
	"github.com/hyperengineering/studysync/internal/journal"
	"github.com/hyperengineering/studysync/internal/metrics"
	"github.com/hyperengineering/studysync/internal/reconcile"
	"github.com/hyperengineering/studysync/internal/types"
	"github.com/hyperengineering/studysync/internal/window"
)

// RemoteCatalog lists the studies the archive holds for a window.
type RemoteCatalog interface {
	Query(ctx context.Context, w window.Window) ([]types.RawIdentity, error)
}

// LocalCatalog lists the studies already stored locally for a window.
type LocalCatalog interface {
	QueryStudies(ctx context.Context, table string, w window.Window) ([]types.LocalRecord, error)
}

// Dispatcher requests retrieval of catalog entries.
type Dispatcher interface {
	Dispatch(ctx context.Context, entries []types.CatalogEntry) dispatch.Summary
}

// UnavailableStore stands in for a local store that could not be opened.
// Every query returns Err, so the run degrades as if the query had failed.
type UnavailableStore struct {
	Err error
}

// QueryStudies returns the stored connection error.
func (u UnavailableStore) QueryStudies(context.Context, string, window.Window) ([]types.LocalRecord, error) {
	return nil, u.Err
}

// Deps are the collaborators of a Job. Journal, Metrics and Pusher are optional.
type Deps struct {
	Remote     RemoteCatalog
	Local      LocalCatalog
	Table      string
	Dispatcher Dispatcher
	Engine     *reconcile.Engine
	Journal    journal.Journal
	Metrics    *metrics.Metrics
	Pusher     metrics.Pusher
	Logger     *slog.Logger
}

// Job orchestrates reconciliation and manual retrieval runs.
type Job struct {
	remote     RemoteCatalog
	local      LocalCatalog
	table      string
	dispatcher Dispatcher
	engine     *reconcile.Engine
	journal    journal.Journal
	metrics    *metrics.Metrics
	pusher     metrics.Pusher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Job.
func New(d Deps) *Job {
	j := &Job{
		remote:     d.Remote,
		local:      d.Local,
		table:      d.Table,
		dispatcher: d.Dispatcher,
		engine:     d.Engine,
		journal:    d.Journal,
		metrics:    d.Metrics,
		pusher:     d.Pusher,
		logger:     d.Logger,
		now:        time.Now,
	}
	if j.engine == nil {
		j.engine = reconcile.NewEngine(reconcile.Normalizer{})
	}
	if j.journal == nil {
		j.journal = journal.NoopJournal{}
	}
	if j.metrics == nil {
		j.metrics = metrics.New()
	}
	if j.pusher == nil {
		j.pusher = metrics.NoopPusher{}
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

// Outcome is everything a run produced.
type Outcome struct {
	Report     types.RunReport       `json:"report"`
	Missing    []types.CatalogEntry  `json:"missing"`
	Mismatches []types.CountMismatch `json:"count_mismatches"`
	Tasks      []types.RetrievalTask `json:"tasks"`
}

// Reconcile runs one reconciliation over w. A remote connectivity failure
// aborts the run before any retrieval and is returned. A local store
// failure is logged and the local catalog is treated as empty. Per-entry
// retrieval failures never fail the run.
func (j *Job) Reconcile(ctx context.Context, w window.Window, dryRun bool) (*Outcome, error) {
	out := &Outcome{Report: types.RunReport{
		Kind:        types.RunReconcile,
		WindowStart: w.StartDate(),
		WindowEnd:   w.EndDate(),
		DryRun:      dryRun,
	}}
	j.start(ctx, &out.Report)
	log := j.logger.With("run_id", out.Report.ID)

	log.Info("window selected",
		"component", "job",
		"action", "window_selected",
		"start", w.StartDate(),
		"end", w.EndDate(),
		"dry_run", dryRun,
	)

	remote, err := j.remote.Query(ctx, w)
	if err != nil {
		log.Error("remote catalog query failed",
			"component", "job",
			"action", "remote_query_failed",
			"error", err,
		)
		j.finish(ctx, out, err)
		return out, err
	}
	out.Report.RemoteRecords = len(remote)
	log.Info("remote catalog queried",
		"component", "job",
		"action", "remote_queried",
		"records", len(remote),
	)

	localRecords, err := j.local.QueryStudies(ctx, j.table, w)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			j.finish(ctx, out, ctxErr)
			return out, ctxErr
		}
		log.Warn("local store query failed, treating local catalog as empty",
			"component", "job",
			"action", "local_query_degraded",
			"table", j.table,
			"error", err,
		)
		out.Report.LocalDegraded = true
		localRecords = nil
	}

	result := j.engine.Reconcile(remote, localRecords)
	out.Missing = result.Missing
	out.Mismatches = result.Mismatches
	out.Report.CatalogEntries = len(result.Catalog)
	out.Report.LocalEntries = len(result.Local)
	out.Report.MissingEntries = len(result.Missing)
	out.Report.CountMismatches = len(result.Mismatches)

	log.Info("catalogs reconciled",
		"component", "job",
		"action", "reconciled",
		"catalog_entries", len(result.Catalog),
		"local_entries", len(result.Local),
		"missing", len(result.Missing),
		"count_mismatches", len(result.Mismatches),
	)
	for _, m := range result.Mismatches {
		log.Info("instance count differs, not retrieving",
			"component", "job",
			"action", "count_mismatch",
			"subject_name", m.SubjectName,
			"subject_id", m.SubjectID,
			"study_date", m.StudyDate,
			"remote_count", m.RemoteCount,
			"local_count", m.LocalCount,
		)
	}
	j.recordMismatches(ctx, out.Report.ID, result.Mismatches)

	if dryRun {
		for _, e := range result.Missing {
			log.Info("missing study",
				"component", "job",
				"action", "missing",
				"subject_name", e.SubjectName,
				"subject_id", e.SubjectID,
				"study_date", e.StudyDate,
				"occurrences", e.OccurrenceCount,
			)
		}
		j.finish(ctx, out, nil)
		return out, nil
	}

	j.dispatch(ctx, out, result.Missing)
	j.finish(ctx, out, nil)
	return out, nil
}

// Retrieve requests retrieval of every date in w, restricted to subjectID
// when it is non-empty. No catalog is consulted.
func (j *Job) Retrieve(ctx context.Context, w window.Window, subjectID string, dryRun bool) (*Outcome, error) {
	out := &Outcome{Report: types.RunReport{
		Kind:        types.RunRetrieve,
		WindowStart: w.StartDate(),
		WindowEnd:   w.EndDate(),
		DryRun:      dryRun,
	}}
	j.start(ctx, &out.Report)

	days := w.Days()
	entries := make([]types.CatalogEntry, 0, len(days))
	for _, d := range days {
		entries = append(entries, types.CatalogEntry{
			Identity: types.Identity{SubjectID: subjectID, StudyDate: d},
		})
	}
	out.Missing = entries
	out.Report.MissingEntries = len(entries)

	j.logger.Info("manual retrieval requested",
		"component", "job",
		"action", "retrieve_requested",
		"run_id", out.Report.ID,
		"start", w.StartDate(),
		"end", w.EndDate(),
		"subject_id", subjectID,
		"dates", len(entries),
		"dry_run", dryRun,
	)

	if !dryRun {
		j.dispatch(ctx, out, entries)
	}
	j.finish(ctx, out, nil)
	return out, nil
}

func (j *Job) dispatch(ctx context.Context, out *Outcome, entries []types.CatalogEntry) {
	summary := j.dispatcher.Dispatch(ctx, entries)
	out.Tasks = summary.Tasks
	out.Report.Succeeded = summary.Succeeded
	out.Report.Failed = summary.Failed

	if err := j.journal.RecordTasks(context.WithoutCancel(ctx), out.Report.ID, summary.Tasks); err != nil {
		j.journalFailed("record_tasks", err)
	}
}

func (j *Job) start(ctx context.Context, r *types.RunReport) {
	if err := j.journal.StartRun(ctx, r); err != nil {
		j.journalFailed("start_run", err)
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = j.now().UTC()
	}
	r.Status = types.RunRunning
}

// finish stamps the report, journals it and pushes metrics. It uses a
// context detached from cancellation so an interrupted run is still recorded.
func (j *Job) finish(ctx context.Context, out *Outcome, runErr error) {
	ctx = context.WithoutCancel(ctx)
	r := &out.Report

	finished := j.now().UTC()
	r.FinishedAt = &finished
	r.Status = types.RunCompleted
	if runErr != nil {
		r.Status = types.RunAborted
		r.Error = runErr.Error()
	}

	if err := j.journal.FinishRun(ctx, *r); err != nil {
		j.journalFailed("finish_run", err)
	}

	j.metrics.Observe(*r)
	if err := j.pusher.Push(ctx, j.metrics, r.Kind); err != nil {
		j.logger.Warn("metrics push failed",
			"component", "job",
			"action", "metrics_push_failed",
			"run_id", r.ID,
			"error", err,
		)
	}

	j.logger.Info("run finished",
		"component", "job",
		"action", "run_finished",
		"run_id", r.ID,
		"kind", r.Kind,
		"status", r.Status,
		"missing", r.MissingEntries,
		"succeeded", r.Succeeded,
		"failed", r.Failed,
		"duration", finished.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func (j *Job) recordMismatches(ctx context.Context, runID string, mm []types.CountMismatch) {
	if err := j.journal.RecordMismatches(ctx, runID, mm); err != nil {
		j.journalFailed("record_mismatches", err)
	}
}

// journalFailed logs a journal write error. The journal never fails a run.
func (j *Job) journalFailed(action string, err error) {
	if errors.Is(err, journal.ErrDisabled) {
		return
	}
	j.logger.Warn("run journal write failed",
		"component", "journal",
		"action", action,
		"error", err,
	)
}

// IsConnectivity reports whether err is a fatal archive connectivity failure.
func IsConnectivity(err error) bool {
	return errors.Is(err, archive.ErrConnectivity)
}
