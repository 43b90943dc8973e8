package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/studysync/internal/journal"
	"github.com/hyperengineering/studysync/internal/types"
)

// recordRun executes one reconcile against a journal at path and returns
// the run ID it was recorded under.
func recordRun(t *testing.T, path string, runner *fakeRunner) string {
	t.Helper()
	t.Setenv("STUDYSYNC_JOURNAL_PATH", path)
	useFakes(t, runner, &fakeLocal{}, nil)

	stdout, _, err := executeCmd(t, "--json", "--reference-date", "20240107")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var out struct {
		Report types.RunReport `json:"report"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if out.Report.ID == "" {
		t.Fatal("run ID is empty")
	}
	return out.Report.ID
}

func TestRunsList_Empty(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "journal.db")

	stdout, _, err := executeCmd(t, "runs", "list", "--journal", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "No runs recorded.") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunsList_AfterReconcile(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "journal.db")
	id := recordRun(t, path, &fakeRunner{responses: twoStudies})

	stdout, _, err := executeCmd(t, "runs", "list", "--journal", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"ID", "KIND", id, "reconcile", "completed", "20240101-20240107"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunsList_JSON(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "journal.db")
	recordRun(t, path, &fakeRunner{responses: twoStudies})
	recordRun(t, path, &fakeRunner{responses: twoStudies})

	stdout, _, err := executeCmd(t, "runs", "list", "--journal", path, "--limit", "1", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Runs  []types.RunReport `json:"runs"`
		Total int               `json:"total"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Total != 1 || len(got.Runs) != 1 {
		t.Errorf("total = %d, runs = %d, want 1 with --limit 1", got.Total, len(got.Runs))
	}
}

func TestRunsShow_TasksRecorded(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "journal.db")
	id := recordRun(t, path, &fakeRunner{responses: twoStudies, moveErr: errors.New("exit status 1")})

	stdout, _, err := executeCmd(t, "runs", "show", id, "--journal", path, "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var detail journal.RunDetail
	if err := json.Unmarshal([]byte(stdout), &detail); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if detail.Report.ID != id {
		t.Errorf("Report.ID = %q, want %q", detail.Report.ID, id)
	}
	if detail.Report.Failed != 2 {
		t.Errorf("Report.Failed = %d, want 2", detail.Report.Failed)
	}
	if len(detail.Tasks) != 2 {
		t.Fatalf("Tasks = %d, want 2", len(detail.Tasks))
	}
	for _, task := range detail.Tasks {
		if task.Status != types.TaskFailed {
			t.Errorf("task %s status = %s, want failed", task.Identity.SubjectID, task.Status)
		}
	}
}

func TestRunsShow_Text(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "journal.db")
	id := recordRun(t, path, &fakeRunner{responses: twoStudies})

	stdout, _, err := executeCmd(t, "runs", "show", id, "--journal", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Run:              " + id, "STUDY DATE", "succeeded"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunsShow_NotFound(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "journal.db")

	_, _, err := executeCmd(t, "runs", "show", "01HXXXXXXXXXXXXXXXXXXXXXXX", "--journal", path)
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestRunsList_JournalDisabled(t *testing.T) {
	setTestEnv(t)

	_, _, err := executeCmd(t, "runs", "list")
	if !errors.Is(err, journal.ErrDisabled) {
		t.Errorf("error = %v, want ErrDisabled", err)
	}
}
