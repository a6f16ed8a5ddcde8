// Package metrics provides Prometheus metrics for ingestion, reporting and jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coursepulse"

// Report outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFailOpen = "fail_open"
	OutcomeError    = "error"
)

// Collector holds every metric the application exports. A nil *Collector is valid
// and records nothing, so packages can take one optionally.
type Collector struct {
	registry *prometheus.Registry

	EventsIngested   *prometheus.CounterVec
	BotsDropped      *prometheus.CounterVec
	TrackerWrites    *prometheus.CounterVec
	ReportsComputed  *prometheus.CounterVec
	ReportDuration   prometheus.Histogram
	ReportStaleDrops prometheus.Counter
	JobRuns          *prometheus.CounterVec
	EventsDeleted    prometheus.Counter
}

// New creates a collector on a fresh registry that also carries the Go and
// process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the application metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Tracking events accepted by the public API",
			},
			[]string{"kind"},
		),
		BotsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_events_dropped_total",
				Help:      "Tracking events dropped because the user agent is a bot",
			},
			[]string{"kind"},
		),
		TrackerWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_writes_total",
				Help:      "Session tracker writes by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ReportsComputed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_computed_total",
				Help:      "Analytics report computations by window and outcome",
			},
			[]string{"window", "outcome"},
		),
		ReportDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_duration_seconds",
				Help:      "Time spent fetching and aggregating a report",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		ReportStaleDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_stale_results_total",
				Help:      "Report results discarded because a newer request was issued",
			},
		),
		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Background job executions by job and outcome",
			},
			[]string{"job", "outcome"},
		),
		EventsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_events_deleted_total",
				Help:      "Page views and clicks removed by the retention job",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) EventIngested(kind string) {
	if c == nil {
		return
	}
	c.EventsIngested.WithLabelValues(kind).Inc()
}

func (c *Collector) BotDropped(kind string) {
	if c == nil {
		return
	}
	c.BotsDropped.WithLabelValues(kind).Inc()
}

func (c *Collector) TrackerWrite(operation string, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.TrackerWrites.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) ReportComputed(window int, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ReportsComputed.WithLabelValues(windowLabel(window), outcome).Inc()
	c.ReportDuration.Observe(elapsed.Seconds())
}

func (c *Collector) StaleReportDropped() {
	if c == nil {
		return
	}
	c.ReportStaleDrops.Inc()
}

func (c *Collector) JobRun(job string, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.JobRuns.WithLabelValues(job, outcome).Inc()
}

func (c *Collector) RetentionDeleted(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.EventsDeleted.Add(float64(n))
}

func windowLabel(window int) string {
	switch window {
	case 1:
		return "1d"
	case 7:
		return "7d"
	case 30:
		return "30d"
	case 90:
		return "90d"
	default:
		return "other"
	}
}
