package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/studysync/internal/types"
)

// --- Mock Implementations ---

type fetchCall struct {
	subjectID string
	studyDate string
}

type mockRetriever struct {
	mu       sync.Mutex
	calls    []fetchCall
	failFor  map[string]int // subjectID -> number of leading failures; -1 fails forever
	attempts map[string]int
}

func newMockRetriever() *mockRetriever {
	return &mockRetriever{failFor: map[string]int{}, attempts: map[string]int{}}
}

func (m *mockRetriever) Fetch(ctx context.Context, subjectID, studyDate string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fetchCall{subjectID, studyDate})
	m.attempts[subjectID]++

	n, ok := m.failFor[subjectID]
	if ok && (n < 0 || m.attempts[subjectID] <= n) {
		return "", errors.New("E: Move Failed: association rejected for " + subjectID)
	}
	return "moved " + subjectID, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(name, id, date string) types.CatalogEntry {
	return types.CatalogEntry{
		Identity:        types.Identity{SubjectName: name, SubjectID: id, StudyDate: date},
		OccurrenceCount: 1,
	}
}

// --- Tests ---

func TestDispatch_PartialFailureContinues(t *testing.T) {
	r := newMockRetriever()
	r.failFor["2"] = -1
	d := New(r, DefaultPolicy(), discardLogger())

	summary := d.Dispatch(context.Background(), []types.CatalogEntry{
		entry("A", "1", "20240101"),
		entry("B", "2", "20240101"),
		entry("C", "3", "20240102"),
	})

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("summary = succeeded %d failed %d, want 2/1", summary.Succeeded, summary.Failed)
	}
	if len(r.calls) != 3 {
		t.Errorf("Expected 3 Fetch calls, got %d", len(r.calls))
	}
	if len(summary.Tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(summary.Tasks))
	}

	failed := summary.Tasks[1]
	if failed.Status != types.TaskFailed {
		t.Errorf("task[1].Status = %q, want failed", failed.Status)
	}
	if failed.Diagnostic != "E: Move Failed: association rejected for 2" {
		t.Errorf("task[1].Diagnostic = %q, want verbatim collaborator message", failed.Diagnostic)
	}
	if summary.Tasks[2].Status != types.TaskSucceeded {
		t.Errorf("task[2].Status = %q, want succeeded", summary.Tasks[2].Status)
	}
	if summary.Tasks[0].Diagnostic != "moved 1" {
		t.Errorf("task[0].Diagnostic = %q, want fetch output", summary.Tasks[0].Diagnostic)
	}
}

func TestDispatch_EmptyIssuesNothing(t *testing.T) {
	r := newMockRetriever()
	d := New(r, DefaultPolicy(), discardLogger())

	summary := d.Dispatch(context.Background(), nil)

	if len(r.calls) != 0 {
		t.Errorf("Expected 0 Fetch calls, got %d", len(r.calls))
	}
	if summary.Succeeded != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want zero counts", summary)
	}
}

func TestDispatch_DefaultPolicyDoesNotRetry(t *testing.T) {
	r := newMockRetriever()
	r.failFor["1"] = 1 // would succeed on a second attempt
	d := New(r, Policy{}, discardLogger())

	summary := d.Dispatch(context.Background(), []types.CatalogEntry{entry("A", "1", "20240101")})

	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if summary.Tasks[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", summary.Tasks[0].Attempts)
	}
}

func TestDispatch_BoundedRetries(t *testing.T) {
	r := newMockRetriever()
	r.failFor["1"] = 2  // succeeds on the third attempt
	r.failFor["2"] = -1 // never succeeds
	d := New(r, Policy{MaxAttempts: 3, Backoff: time.Millisecond}, discardLogger())

	summary := d.Dispatch(context.Background(), []types.CatalogEntry{
		entry("A", "1", "20240101"),
		entry("B", "2", "20240101"),
	})

	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("summary = succeeded %d failed %d, want 1/1", summary.Succeeded, summary.Failed)
	}
	if summary.Tasks[0].Attempts != 3 {
		t.Errorf("task[0].Attempts = %d, want 3", summary.Tasks[0].Attempts)
	}
	if summary.Tasks[1].Attempts != 3 {
		t.Errorf("task[1].Attempts = %d, want 3 (capped)", summary.Tasks[1].Attempts)
	}
}

func TestDispatch_SequentialOrder(t *testing.T) {
	r := newMockRetriever()
	d := New(r, DefaultPolicy(), discardLogger())

	d.Dispatch(context.Background(), []types.CatalogEntry{
		entry("A", "1", "20240101"),
		entry("B", "2", "20240102"),
	})

	want := []fetchCall{{"1", "20240101"}, {"2", "20240102"}}
	for i, c := range want {
		if r.calls[i] != c {
			t.Errorf("call[%d] = %+v, want %+v", i, r.calls[i], c)
		}
	}
}

func TestDispatch_CancelledContextFailsRemaining(t *testing.T) {
	r := newMockRetriever()
	d := New(r, DefaultPolicy(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := d.Dispatch(ctx, []types.CatalogEntry{entry("A", "1", "20240101")})

	if len(r.calls) != 0 {
		t.Errorf("Expected no Fetch after cancellation, got %d", len(r.calls))
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
}

func TestDispatch_MinIntervalPacesCalls(t *testing.T) {
	r := newMockRetriever()
	d := New(r, Policy{MaxAttempts: 1, MinInterval: 20 * time.Millisecond}, discardLogger())

	start := time.Now()
	d.Dispatch(context.Background(), []types.CatalogEntry{
		entry("A", "1", "20240101"),
		entry("B", "2", "20240101"),
		entry("C", "3", "20240101"),
	})
	elapsed := time.Since(start)

	// First call consumes the initial token; the next two wait one interval each.
	if elapsed < 35*time.Millisecond {
		t.Errorf("elapsed = %v, expected pacing of at least ~40ms", elapsed)
	}
}

func TestRetrievalError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &RetrievalError{Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
	if err.Error() != "boom" {
		t.Errorf("Error() = %q, want %q", err.Error(), "boom")
	}
}
