package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperengineering/studysync/internal/types"
)

func completedReport() types.RunReport {
	started := time.Date(2024, 1, 7, 2, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	return types.RunReport{
		Kind:            types.RunReconcile,
		Status:          types.RunCompleted,
		RemoteRecords:   40,
		CatalogEntries:  5,
		LocalEntries:    3,
		MissingEntries:  2,
		CountMismatches: 1,
		Succeeded:       1,
		Failed:          1,
		StartedAt:       started,
		FinishedAt:      &finished,
	}
}

func TestObserve_SetsGauges(t *testing.T) {
	m := New()
	r := completedReport()

	m.Observe(r)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"RemoteRecords", testutil.ToFloat64(m.RemoteRecords), 40},
		{"CatalogEntries", testutil.ToFloat64(m.CatalogEntries), 5},
		{"LocalEntries", testutil.ToFloat64(m.LocalEntries), 3},
		{"MissingEntries", testutil.ToFloat64(m.MissingEntries), 2},
		{"CountMismatches", testutil.ToFloat64(m.CountMismatches), 1},
		{"Retrievals succeeded", testutil.ToFloat64(m.Retrievals.WithLabelValues("succeeded")), 1},
		{"Retrievals failed", testutil.ToFloat64(m.Retrievals.WithLabelValues("failed")), 1},
		{"LocalDegraded", testutil.ToFloat64(m.LocalDegraded), 0},
		{"Duration", testutil.ToFloat64(m.Duration), 90},
		{"LastSuccess", testutil.ToFloat64(m.LastSuccess), float64(r.FinishedAt.Unix())},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestObserve_DegradedLocalStore(t *testing.T) {
	m := New()
	r := completedReport()
	r.LocalDegraded = true

	m.Observe(r)

	if got := testutil.ToFloat64(m.LocalDegraded); got != 1 {
		t.Errorf("LocalDegraded = %v, want 1", got)
	}
}

func TestGatherer_AbortedRunOmitsLastSuccess(t *testing.T) {
	m := New()
	r := completedReport()
	r.Status = types.RunAborted

	m.Observe(r)

	n, err := testutil.GatherAndCount(m.Gatherer(), "studysync_last_success_timestamp_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("last success series = %d, want 0 for aborted run", n)
	}

	n, err = testutil.GatherAndCount(m.Gatherer(), "studysync_last_run_timestamp_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("last run series = %d, want 1", n)
	}
}

func TestGatherer_CompletedRunIncludesLastSuccess(t *testing.T) {
	m := New()
	m.Observe(completedReport())

	n, err := testutil.GatherAndCount(m.Gatherer(), "studysync_last_success_timestamp_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("last success series = %d, want 1", n)
	}
}

func TestNewPusher_EmptyURLIsNoop(t *testing.T) {
	p := NewPusher("", "studysync")
	if _, ok := p.(NoopPusher); !ok {
		t.Fatalf("NewPusher(\"\") = %T, want NoopPusher", p)
	}
	if err := p.Push(context.Background(), New(), types.RunReconcile); err != nil {
		t.Errorf("NoopPusher.Push() error = %v", err)
	}
}

func TestGatewayPusher_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.Observe(completedReport())

	if err := NewPusher(srv.URL, "studysync").Push(context.Background(), m, types.RunReconcile); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPost {
		t.Errorf("method = %s, want POST", method)
	}
	if path != "/metrics/job/studysync/kind/reconcile" {
		t.Errorf("path = %s", path)
	}
}

func TestGatewayPusher_PushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewPusher(srv.URL, "").Push(context.Background(), New(), types.RunRetrieve)
	if err == nil {
		t.Error("Push() expected error on 500 response")
	}
}
