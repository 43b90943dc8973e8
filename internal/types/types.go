package types

import "time"

// Identity is the comparison key shared by the archive and the local store.
// Fields always hold normalized strings; see reconcile.Normalizer.
type Identity struct {
	SubjectName string `json:"subject_name"`
	SubjectID   string `json:"subject_id"`
	StudyDate   string `json:"study_date"`
}

// RawIdentity is an identity tuple as returned by a collaborator, before
// normalization. Values may be strings, dates, numbers or nil.
type RawIdentity struct {
	SubjectName any
	SubjectID   any
	StudyDate   any
}

// LocalRecord is one pre-aggregated row from the local metadata store.
type LocalRecord struct {
	Raw   RawIdentity
	Count int64
}

// CatalogEntry is a distinct remote identity with the number of raw matches
// that collapsed into it.
type CatalogEntry struct {
	Identity        `json:"identity"`
	OccurrenceCount int64 `json:"occurrence_count"`
}

// LocalEntry is a distinct local identity with its stored row count.
type LocalEntry struct {
	Identity        `json:"identity"`
	OccurrenceCount int64 `json:"occurrence_count"`
}

// CountMismatch records an identity present on both sides whose counts differ.
// Mismatches are informational and never trigger retrieval.
type CountMismatch struct {
	Identity    `json:"identity"`
	RemoteCount int64 `json:"remote_count"`
	LocalCount  int64 `json:"local_count"`
}

// TaskStatus is the lifecycle state of a RetrievalTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// RetrievalTask tracks one retrieval request for a missing entry.
type RetrievalTask struct {
	Identity        Identity   `json:"identity"`
	OccurrenceCount int64      `json:"occurrence_count"`
	Status          TaskStatus `json:"status"`
	Attempts        int        `json:"attempts"`
	Diagnostic      string     `json:"diagnostic,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunKind distinguishes scheduled reconciliation runs from manual retrievals.
type RunKind string

const (
	RunReconcile RunKind = "reconcile"
	RunRetrieve  RunKind = "retrieve"
)

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// RunReport summarizes one invocation of the job.
type RunReport struct {
	ID              string     `json:"id"`
	Kind            RunKind    `json:"kind"`
	Status          RunStatus  `json:"status"`
	WindowStart     string     `json:"window_start"`
	WindowEnd       string     `json:"window_end"`
	DryRun          bool       `json:"dry_run"`
	RemoteRecords   int        `json:"remote_records"`
	CatalogEntries  int        `json:"catalog_entries"`
	LocalEntries    int        `json:"local_entries"`
	LocalDegraded   bool       `json:"local_degraded"`
	MissingEntries  int        `json:"missing_entries"`
	CountMismatches int        `json:"count_mismatches"`
	Succeeded       int        `json:"succeeded"`
	Failed          int        `json:"failed"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
