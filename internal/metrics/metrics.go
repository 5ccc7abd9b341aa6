// Package metrics defines the Prometheus collectors for the related-notes engine
// and its HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	IndexedDocuments    prometheus.Gauge
	RelaxedParameters   prometheus.Gauge
	BulkRunsTotal       *prometheus.CounterVec
	BulkRunDuration     prometheus.Histogram
	DocumentFailures    prometheus.Counter
	OnDemandAddsTotal   prometheus.Counter
	SketchDuration      prometheus.Histogram
	PairCacheLookups    *prometheus.CounterVec
	CandidatesReturned  prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relnotes_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relnotes_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		IndexedDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relnotes_indexed_documents",
			Help: "Documents currently held by the similarity index.",
		}),
		RelaxedParameters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relnotes_relaxed_parameters",
			Help: "1 while large-corpus retrieval parameters are active.",
		}),
		BulkRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relnotes_bulk_runs_total",
				Help: "Initialize and reindex runs by outcome.",
			},
			[]string{"outcome"},
		),
		BulkRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relnotes_bulk_run_duration_seconds",
			Help:    "Duration of initialize and reindex runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		DocumentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relnotes_document_failures_total",
			Help: "Documents that could not be fetched or sketched.",
		}),
		OnDemandAddsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relnotes_on_demand_adds_total",
			Help: "Documents indexed after initialization because they were queried or created.",
		}),
		SketchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relnotes_sketch_duration_seconds",
			Help:    "Time to featurize and sketch one document.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		PairCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relnotes_pair_cache_lookups_total",
				Help: "Pairwise similarity cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		CandidatesReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relnotes_candidates_returned",
			Help:    "Candidates returned per related-documents query.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IndexedDocuments,
		m.RelaxedParameters,
		m.BulkRunsTotal,
		m.BulkRunDuration,
		m.DocumentFailures,
		m.OnDemandAddsTotal,
		m.SketchDuration,
		m.PairCacheLookups,
		m.CandidatesReturned,
	)
	return m
}

// Handler returns the scrape handler for gatherer. A nil gatherer serves the
// default registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetDocuments records the index size and relaxation state.
func (m *Metrics) SetDocuments(n int, relaxed bool) {
	if m == nil {
		return
	}
	m.IndexedDocuments.Set(float64(n))
	if relaxed {
		m.RelaxedParameters.Set(1)
	} else {
		m.RelaxedParameters.Set(0)
	}
}

// ObserveBulkRun records a finished bulk run.
func (m *Metrics) ObserveBulkRun(outcome string, d time.Duration, failures int) {
	if m == nil {
		return
	}
	m.BulkRunsTotal.WithLabelValues(outcome).Inc()
	m.BulkRunDuration.Observe(d.Seconds())
	m.DocumentFailures.Add(float64(failures))
}

// ObserveSketch records the time spent sketching one document.
func (m *Metrics) ObserveSketch(d time.Duration) {
	if m == nil {
		return
	}
	m.SketchDuration.Observe(d.Seconds())
}

// OnDemandAdd counts one on-demand index event.
func (m *Metrics) OnDemandAdd() {
	if m == nil {
		return
	}
	m.OnDemandAddsTotal.Inc()
}

// CacheLookup counts a pair cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.PairCacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.PairCacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveCandidates records the size of one related-documents answer.
func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.CandidatesReturned.Observe(float64(n))
}
