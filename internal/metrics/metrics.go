// Package metrics exposes run outcomes as Prometheus metrics and pushes them
// to a Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/hyperengineering/studysync/internal/types"
)

// Metrics holds the gauges describing the most recent run.
// Each run owns its own registry; values are pushed, never scraped.
type Metrics struct {
	registry  *prometheus.Registry
	success   *prometheus.Registry
	completed bool

	RemoteRecords   prometheus.Gauge
	CatalogEntries  prometheus.Gauge
	LocalEntries    prometheus.Gauge
	LocalDegraded   prometheus.Gauge
	MissingEntries  prometheus.Gauge
	CountMismatches prometheus.Gauge
	Retrievals      *prometheus.GaugeVec
	Duration        prometheus.Gauge
	LastRun         prometheus.Gauge
	LastSuccess     prometheus.Gauge
}

// New creates a Metrics instance with every metric registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	success := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		success:  success,
		RemoteRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_remote_records",
			Help: "Query responses returned by the archive in the last run",
		}),
		CatalogEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_catalog_entries",
			Help: "Distinct remote studies in the last run window",
		}),
		LocalEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_local_entries",
			Help: "Distinct local studies in the last run window",
		}),
		LocalDegraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_local_degraded",
			Help: "1 when the local store could not be read and was treated as empty",
		}),
		MissingEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_missing_entries",
			Help: "Remote studies absent from the local store",
		}),
		CountMismatches: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_count_mismatches",
			Help: "Studies present on both sides with differing instance counts",
		}),
		Retrievals: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "studysync_retrievals",
			Help: "Retrieval outcomes in the last run",
		}, []string{"outcome"}),
		Duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		LastSuccess: promauto.With(success).NewGauge(prometheus.GaugeOpts{
			Name: "studysync_last_success_timestamp_seconds",
			Help: "Unix time the last run completed without aborting",
		}),
	}
}

// Gatherer returns the metrics to publish. The last success gauge is only
// included once a run has completed, so an aborted run leaves the previous
// value on the gateway untouched.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.completed {
		return prometheus.Gatherers{m.registry, m.success}
	}
	return m.registry
}

// Observe sets every gauge from a finished run report.
func (m *Metrics) Observe(r types.RunReport) {
	m.RemoteRecords.Set(float64(r.RemoteRecords))
	m.CatalogEntries.Set(float64(r.CatalogEntries))
	m.LocalEntries.Set(float64(r.LocalEntries))
	m.MissingEntries.Set(float64(r.MissingEntries))
	m.CountMismatches.Set(float64(r.CountMismatches))
	m.Retrievals.WithLabelValues("succeeded").Set(float64(r.Succeeded))
	m.Retrievals.WithLabelValues("failed").Set(float64(r.Failed))

	if r.LocalDegraded {
		m.LocalDegraded.Set(1)
	} else {
		m.LocalDegraded.Set(0)
	}

	finished := time.Now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	if !r.StartedAt.IsZero() {
		m.Duration.Set(finished.Sub(r.StartedAt).Seconds())
	}
	m.LastRun.Set(float64(finished.Unix()))
	m.completed = r.Status == types.RunCompleted
	if m.completed {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

// Pusher sends collected metrics somewhere.
type Pusher interface {
	Push(ctx context.Context, m *Metrics, kind types.RunKind) error
}

// NoopPusher is used when no Pushgateway is configured.
type NoopPusher struct{}

// Push does nothing.
func (NoopPusher) Push(context.Context, *Metrics, types.RunKind) error { return nil }

// GatewayPusher pushes to a Prometheus Pushgateway.
type GatewayPusher struct {
	url string
	job string
}

// NewPusher returns a GatewayPusher, or a NoopPusher when url is empty.
func NewPusher(url, job string) Pusher {
	if url == "" {
		return NoopPusher{}
	}
	if job == "" {
		job = "studysync"
	}
	return &GatewayPusher{url: url, job: job}
}

// Push replaces the pushed metrics in the run kind's grouping.
func (p *GatewayPusher) Push(ctx context.Context, m *Metrics, kind types.RunKind) error {
	pusher := push.New(p.url, p.job).
		Gatherer(m.Gatherer()).
		Grouping("kind", string(kind))
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.url, err)
	}
	return nil
}
