// Package metrics exposes Prometheus collectors for seeding, upstream calls
// and the HTTP API.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

const namespace = "pokedex"

// Metrics holds every collector the service exports. It implements
// seeder.Reporter and pokeapi.Observer so it can be handed directly to both.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RunsActive       prometheus.Gauge
	BatchesTotal     prometheus.Counter
	OutcomesTotal    *prometheus.CounterVec
	SpeciesCreated   prometheus.Counter
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one carrying the Go and process collectors.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pokedex metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "seed",
		Name:      "runs_total",
		Help:      "Seed runs by final result.",
	}, []string{"result"})

	m.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "seed",
		Name:      "run_duration_seconds",
		Help:      "Wall time of seed runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	m.RunsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "seed",
		Name:      "runs_active",
		Help:      "Seed runs currently in progress.",
	})

	m.BatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "seed",
		Name:      "batches_total",
		Help:      "Batches started across all runs.",
	})

	m.OutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "seed",
		Name:      "outcomes_total",
		Help:      "Per-species outcomes by state and failure kind.",
	}, []string{"state", "kind"})

	m.SpeciesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "seed",
		Name:      "species_created_total",
		Help:      "Species inserted for the first time.",
	})

	m.UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "HTTP attempts against the species API by outcome.",
	}, []string{"outcome"})

	m.UpstreamLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of species API attempts.",
		Buckets:   prometheus.DefBuckets,
	})

	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status.",
	}, []string{"method", "route", "status"})

	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
}

func (m *Metrics) all() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal, m.RunDuration, m.RunsActive, m.BatchesTotal, m.OutcomesTotal,
		m.SpeciesCreated, m.UpstreamRequests, m.UpstreamLatency, m.HTTPRequests, m.HTTPDuration,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.all() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.all() {
		c.Collect(ch)
	}
}

// Registry returns the registry the metrics were registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveUpstream records one species API attempt.
func (m *Metrics) ObserveUpstream(outcome string, elapsed time.Duration) {
	m.UpstreamRequests.WithLabelValues(outcome).Inc()
	m.UpstreamLatency.Observe(elapsed.Seconds())
}

// ObserveHTTP records one API request. route is the mux path template, not
// the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) OnRunStart(seeder.RunInfo) {
	m.RunsActive.Inc()
}

func (m *Metrics) OnBatchStart(seeder.BatchInfo) {
	m.BatchesTotal.Inc()
}

func (m *Metrics) OnOutcome(o seeder.Outcome) {
	kind := o.Kind
	if kind == "" {
		kind = "none"
	}
	m.OutcomesTotal.WithLabelValues(string(o.State), kind).Inc()
	if o.State == seeder.StateUpserted && o.Created {
		m.SpeciesCreated.Inc()
	}
}

func (m *Metrics) OnRunComplete(res *seeder.Result) {
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(runResult(res)).Inc()
	m.RunDuration.Observe(float64(res.DurationMS) / 1000)
}

func runResult(res *seeder.Result) string {
	switch {
	case res.Partial:
		return "partial"
	case res.Failed > 0:
		return "failures"
	default:
		return "ok"
	}
}
