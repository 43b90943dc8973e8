// Package journal records every run and retrieval task so operators can see
// what past runs found and fetched. The journal is informational: nothing in
// reconciliation reads it back.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/studysync/internal/types"
)

var (
	ErrNotFound = errors.New("run not found")
	ErrDisabled = errors.New("run journal disabled")
)

// Journal persists run reports.
type Journal interface {
	// StartRun assigns the report an ID and start time and records it as running.
	StartRun(ctx context.Context, report *types.RunReport) error

	// RecordTasks stores the retrieval tasks of a run.
	RecordTasks(ctx context.Context, runID string, tasks []types.RetrievalTask) error

	// RecordMismatches stores the count mismatches found by a run.
	RecordMismatches(ctx context.Context, runID string, mismatches []types.CountMismatch) error

	// FinishRun stores the final state of a run.
	FinishRun(ctx context.Context, report types.RunReport) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]types.RunReport, error)

	// GetRun returns a run with its tasks and mismatches.
	GetRun(ctx context.Context, id string) (*RunDetail, error)

	Close() error
}

// RunDetail is a run with everything recorded against it.
type RunDetail struct {
	Report     types.RunReport       `json:"report"`
	Tasks      []types.RetrievalTask `json:"tasks"`
	Mismatches []types.CountMismatch `json:"count_mismatches"`
}

// NoopJournal is used when no journal path is configured.
// Runs still get IDs so log lines can be correlated.
type NoopJournal struct{}

func (NoopJournal) StartRun(_ context.Context, report *types.RunReport) error {
	report.ID = ulid.Make().String()
	report.StartedAt = time.Now().UTC()
	report.Status = types.RunRunning
	return nil
}

func (NoopJournal) RecordTasks(context.Context, string, []types.RetrievalTask) error { return nil }

func (NoopJournal) RecordMismatches(context.Context, string, []types.CountMismatch) error {
	return nil
}

func (NoopJournal) FinishRun(context.Context, types.RunReport) error { return nil }

func (NoopJournal) ListRuns(context.Context, int) ([]types.RunReport, error) {
	return nil, ErrDisabled
}

func (NoopJournal) GetRun(context.Context, string) (*RunDetail, error) {
	return nil, ErrDisabled
}

func (NoopJournal) Close() error { return nil }

// Open returns a SQLite journal at path, or a NoopJournal when path is empty.
func Open(path string) (Journal, error) {
	if path == "" {
		return NoopJournal{}, nil
	}
	return NewSQLiteJournal(path)
}
