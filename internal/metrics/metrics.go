// Package metrics exposes Prometheus collectors for the upstream caching layer.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the proxy
type Collector struct {
	registry *prometheus.Registry

	// Read-through metrics, labelled by resource family
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	StaleServed *prometheus.CounterVec
	Unavailable *prometheus.CounterVec

	// Upstream metrics, labelled by provider
	UpstreamAttempts *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	// Batch metrics
	BatchRuns        *prometheus.CounterVec
	BatchTagFailures *prometheus.CounterVec
	BatchArticles    prometheus.Gauge
}

// NewCollector creates a collector registered on its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of primary cache hits",
			},
			[]string{"family"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of primary cache misses",
			},
			[]string{"family"},
		),
		StaleServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_served_total",
				Help:      "Total number of responses served from the stale cache",
			},
			[]string{"family"},
		),
		Unavailable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unavailable_total",
				Help:      "Total number of fetches with neither fresh nor stale data",
			},
			[]string{"family"},
		),
		UpstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Total number of upstream HTTP attempts by outcome",
			},
			[]string{"provider", "outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_call_duration_seconds",
				Help:      "Duration of logical upstream calls including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		BatchRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_runs_total",
				Help:      "Total number of AI article batch runs",
			},
			[]string{"result"},
		),
		BatchTagFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_tag_failures_total",
				Help:      "Total number of per-tag failures during batch runs",
			},
			[]string{"tag"},
		),
		BatchArticles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_articles",
				Help:      "Number of articles in the latest AI article snapshot",
			},
		),
	}

	registry.MustRegister(
		c.CacheHits,
		c.CacheMisses,
		c.StaleServed,
		c.Unavailable,
		c.UpstreamAttempts,
		c.UpstreamDuration,
		c.BatchRuns,
		c.BatchTagFailures,
		c.BatchArticles,
	)

	return c
}

// Registry returns the registry the collector's metrics live on
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an http.Handler serving the collector's registry
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordHit(family string) {
	if c == nil {
		return
	}
	c.CacheHits.WithLabelValues(family).Inc()
}

func (c *Collector) RecordMiss(family string) {
	if c == nil {
		return
	}
	c.CacheMisses.WithLabelValues(family).Inc()
}

func (c *Collector) RecordStale(family string) {
	if c == nil {
		return
	}
	c.StaleServed.WithLabelValues(family).Inc()
}

func (c *Collector) RecordUnavailable(family string) {
	if c == nil {
		return
	}
	c.Unavailable.WithLabelValues(family).Inc()
}

func (c *Collector) RecordAttempt(provider, outcome string) {
	if c == nil {
		return
	}
	c.UpstreamAttempts.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) ObserveCall(provider string, d time.Duration) {
	if c == nil {
		return
	}
	c.UpstreamDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordBatch records one finished batch run
func (c *Collector) RecordBatch(result string, articles int, failedTags []string) {
	if c == nil {
		return
	}
	c.BatchRuns.WithLabelValues(result).Inc()
	c.BatchArticles.Set(float64(articles))
	for _, tag := range failedTags {
		c.BatchTagFailures.WithLabelValues(tag).Inc()
	}
}
