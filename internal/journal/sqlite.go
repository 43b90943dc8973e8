package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/studysync/internal/types"
)

// SQLiteJournal stores runs in a local SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens the journal database, applies pragmas and runs migrations.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps :memory: databases and pragmas consistent.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// StartRun inserts a running row for report.
func (j *SQLiteJournal) StartRun(ctx context.Context, report *types.RunReport) error {
	report.ID = ulid.Make().String()
	report.StartedAt = time.Now().UTC()
	report.Status = types.RunRunning

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, status, window_start, window_end, dry_run, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, report.ID, string(report.Kind), string(report.Status), report.WindowStart, report.WindowEnd,
		report.DryRun, formatTime(report.StartedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordTasks stores tasks in dispatch order.
func (j *SQLiteJournal) RecordTasks(ctx context.Context, runID string, tasks []types.RetrievalTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO retrievals
			(run_id, seq, subject_name, subject_id, study_date, occurrence_count, status, attempts, diagnostic, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range tasks {
		_, err := stmt.ExecContext(ctx, runID, i,
			t.Identity.SubjectName, t.Identity.SubjectID, t.Identity.StudyDate,
			t.OccurrenceCount, string(t.Status), t.Attempts,
			nullString(t.Diagnostic), formatTimePtr(t.FinishedAt))
		if err != nil {
			return fmt.Errorf("insert retrieval %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit retrievals: %w", err)
	}
	return nil
}

// RecordMismatches stores the count mismatches of a run.
func (j *SQLiteJournal) RecordMismatches(ctx context.Context, runID string, mismatches []types.CountMismatch) error {
	if len(mismatches) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mismatches {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO count_mismatches (run_id, subject_name, subject_id, study_date, remote_count, local_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, m.SubjectName, m.SubjectID, m.StudyDate, m.RemoteCount, m.LocalCount)
		if err != nil {
			return fmt.Errorf("insert mismatch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mismatches: %w", err)
	}
	return nil
}

// FinishRun updates the run row with its final counts and status.
func (j *SQLiteJournal) FinishRun(ctx context.Context, r types.RunReport) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, remote_records = ?, catalog_entries = ?, local_entries = ?,
			local_degraded = ?, missing_entries = ?, count_mismatches = ?,
			succeeded = ?, failed = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(r.Status), r.RemoteRecords, r.CatalogEntries, r.LocalEntries,
		r.LocalDegraded, r.MissingEntries, r.CountMismatches,
		r.Succeeded, r.Failed, nullString(r.Error), formatTimePtr(r.FinishedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, kind, status, window_start, window_end, dry_run, remote_records,
	catalog_entries, local_entries, local_degraded, missing_entries, count_mismatches,
	succeeded, failed, error, started_at, finished_at`

// ListRuns returns up to limit runs, newest first. A limit below 1 returns all runs.
func (j *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]types.RunReport, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with id, or ErrNotFound.
func (j *SQLiteJournal) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	report, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	detail := &RunDetail{Report: *report}

	detail.Tasks, err = j.tasks(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Mismatches, err = j.mismatches(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (j *SQLiteJournal) tasks(ctx context.Context, runID string) ([]types.RetrievalTask, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT subject_name, subject_id, study_date, occurrence_count, status, attempts, diagnostic, finished_at
		FROM retrievals WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query retrievals: %w", err)
	}
	defer rows.Close()

	var tasks []types.RetrievalTask
	for rows.Next() {
		var (
			t          types.RetrievalTask
			status     string
			diagnostic sql.NullString
			finishedAt sql.NullString
		)
		if err := rows.Scan(&t.Identity.SubjectName, &t.Identity.SubjectID, &t.Identity.StudyDate,
			&t.OccurrenceCount, &status, &t.Attempts, &diagnostic, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan retrieval: %w", err)
		}
		t.Status = types.TaskStatus(status)
		t.Diagnostic = diagnostic.String
		t.FinishedAt = parseTimePtr(finishedAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (j *SQLiteJournal) mismatches(ctx context.Context, runID string) ([]types.CountMismatch, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT subject_name, subject_id, study_date, remote_count, local_count
		FROM count_mismatches WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query mismatches: %w", err)
	}
	defer rows.Close()

	var out []types.CountMismatch
	for rows.Next() {
		var m types.CountMismatch
		if err := rows.Scan(&m.SubjectName, &m.SubjectID, &m.StudyDate, &m.RemoteCount, &m.LocalCount); err != nil {
			return nil, fmt.Errorf("scan mismatch: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*types.RunReport, error) {
	var (
		r          types.RunReport
		kind       string
		status     string
		runErr     sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	err := s.Scan(&r.ID, &kind, &status, &r.WindowStart, &r.WindowEnd, &r.DryRun,
		&r.RemoteRecords, &r.CatalogEntries, &r.LocalEntries, &r.LocalDegraded,
		&r.MissingEntries, &r.CountMismatches, &r.Succeeded, &r.Failed,
		&runErr, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	r.Kind = types.RunKind(kind)
	r.Status = types.RunStatus(status)
	r.Error = runErr.String
	r.StartedAt, _ = time.Parse(timeLayout, startedAt)
	r.FinishedAt = parseTimePtr(finishedAt)
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
