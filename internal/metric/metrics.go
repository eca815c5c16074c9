// Package metric holds the process-wide Prometheus instrumentation for
// the preview cache and the live fan-out service.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on a private registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheBypass  prometheus.Counter
	CacheStores  prometheus.Counter

	QueryDuration *prometheus.HistogramVec

	LiveSubscribers prometheus.Gauge
	LiveViews       prometheus.Gauge
	LivePublished   prometheus.Counter
	LiveDropped     prometheus.Counter
}

// New creates a metrics bundle with its own registry, including Go
// runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsql_preview_cache_hits_total",
			Help: "Preview requests served from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsql_preview_cache_misses_total",
			Help: "Preview requests that required execution.",
		}),
		CacheBypass: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsql_preview_cache_bypass_total",
			Help: "Preview requests that bypassed a failing cache backend.",
		}),
		CacheStores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsql_preview_cache_stores_total",
			Help: "Preview results written to the cache.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowsql_query_duration_seconds",
			Help:    "Compiled query execution latency by backing store.",
			Buckets: prometheus.DefBuckets,
		}, []string{"store"}),
		LiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowsql_live_subscribers",
			Help: "Currently attached live subscribers.",
		}),
		LiveViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowsql_live_views",
			Help: "Live views with an active upstream feed.",
		}),
		LivePublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsql_live_published_total",
			Help: "Row batches published to subscribers.",
		}),
		LiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsql_live_dropped_total",
			Help: "Row batches dropped on full subscriber buffers.",
		}),
	}

	registry.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheBypass, m.CacheStores,
		m.QueryDuration,
		m.LiveSubscribers, m.LiveViews, m.LivePublished, m.LiveDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
