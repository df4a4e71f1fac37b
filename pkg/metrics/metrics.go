// Package metrics defines the Prometheus metric collectors used across the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	SearchQueriesTotal  *prometheus.CounterVec
	SearchLatency       *prometheus.HistogramVec
	SearchResultsCount  prometheus.Histogram
	DocsIndexedTotal    *prometheus.CounterVec
	DocsDeletedTotal    prometheus.Counter
	IndexWorkerQueue    *prometheus.GaugeVec
	CollectionDocCount  *prometheus.GaugeVec
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	RaftAppliesTotal    *prometheus.CounterVec
	RaftSnapshotsTotal  *prometheus.CounterVec
	RaftIsLeader        prometheus.Gauge
	StoreWriteFailures  prometheus.Counter
	AnalyticsFlushTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed by operation (create, upsert, update).",
			},
			[]string{"operation"},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_deleted_total",
				Help: "Total documents deleted.",
			},
		),
		IndexWorkerQueue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_worker_queue_depth",
				Help: "Pending requests per collection index worker.",
			},
			[]string{"collection"},
		),
		CollectionDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "collection_doc_count",
				Help: "Live documents per collection.",
			},
			[]string{"collection"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		RaftAppliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raft_applies_total",
				Help: "Total replicated log entries applied by status.",
			},
			[]string{"status"},
		),
		RaftSnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raft_snapshots_total",
				Help: "Total snapshot operations by status.",
			},
			[]string{"status"},
		),
		RaftIsLeader: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "raft_is_leader",
				Help: "1 when this node is the raft leader.",
			},
		),
		StoreWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "store_write_failures_total",
				Help: "Total persistent store write failures.",
			},
		),
		AnalyticsFlushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_flush_total",
				Help: "Total analytics flush operations by status.",
			},
			[]string{"status"},
		),
	}

	prometheus.MustRegister(
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.IndexWorkerQueue,
		m.CollectionDocCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RaftAppliesTotal,
		m.RaftSnapshotsTotal,
		m.RaftIsLeader,
		m.StoreWriteFailures,
		m.AnalyticsFlushTotal,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
