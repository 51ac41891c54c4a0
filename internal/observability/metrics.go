package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: requests stuck behind a slow upstream.
	HTTPRequestsInFlight prometheus.Gauge

	// Vendor API call rate by endpoint (current, history). Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Vendor API latency per request. Watch for: p95 > 2s (upstream degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Failed fetches by error category. Watch for: invalid_api_key (credentials rotated).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Requests answered from a fresh cache entry.
	CacheHitsTotal *prometheus.CounterVec

	// Requests that found no fresh entry and joined or started a fetch.
	CacheMissesTotal *prometheus.CounterVec

	// Misses that joined a fetch already in flight. Watch for: high values = many concurrent cold requests.
	CoalescedRequestsTotal *prometheus.CounterVec

	// One of the two history day-windows failing while the other succeeded.
	HistoryWindowFailuresTotal *prometheus.CounterVec

	// History rows discarded for lacking a usable epoch.
	NormalizeDroppedRowsTotal prometheus.Counter

	// Payloads synthesized because no credentials were configured.
	SyntheticServesTotal *prometheus.CounterVec

	// 0 closed, 1 half-open, 2 open.
	CircuitBreakerState prometheus.Gauge

	// Scheduled cache refreshes by outcome.
	RefreshRunsTotal *prometheus.CounterVec

	// Summary requests by requested unit system.
	SummaryRequestsTotal *prometheus.CounterVec

	cacheAgeMu         sync.Mutex
	cacheAgeRegistered map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of PWS vendor API calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "PWS vendor API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Failed upstream fetches by resource and error category",
		},
		[]string{"resource", "category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Requests served from a fresh cache entry",
		},
		[]string{"resource"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Requests that found no fresh cache entry",
		},
		[]string{"resource"},
	)
	CoalescedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalescedRequestsTotal",
			Help: "Cache misses that shared an in-flight fetch instead of starting one",
		},
		[]string{"resource"},
	)
	HistoryWindowFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyWindowFailuresTotal",
			Help: "History day-window fetches that failed while the other window succeeded",
		},
		[]string{"window"},
	)
	NormalizeDroppedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "normalizeDroppedRowsTotal",
			Help: "History rows dropped for lacking a usable epoch",
		},
	)
	SyntheticServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syntheticServesTotal",
			Help: "Synthetic payloads generated because credentials are not configured",
		},
		[]string{"resource"},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Upstream circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
	)
	RefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshRunsTotal",
			Help: "Scheduled cache refresh runs by resource and outcome",
		},
		[]string{"resource", "status"},
	)
	SummaryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaryRequestsTotal",
			Help: "Dashboard summary requests by unit system",
		},
		[]string{"units"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CoalescedRequestsTotal,
		HistoryWindowFailuresTotal, NormalizeDroppedRowsTotal,
		SyntheticServesTotal, CircuitBreakerState,
		RefreshRunsTotal, SummaryRequestsTotal,
	)
}

// RegisterCacheAgeGauge exposes the age in seconds of a resource's cache entry.
// age reports false while the slot is empty, which reads as -1. Registering the same
// resource twice is a no-op.
func RegisterCacheAgeGauge(resource string, age func() (float64, bool)) {
	cacheAgeMu.Lock()
	defer cacheAgeMu.Unlock()
	if cacheAgeRegistered == nil {
		cacheAgeRegistered = make(map[string]struct{})
	}
	if _, ok := cacheAgeRegistered[resource]; ok {
		return
	}
	cacheAgeRegistered[resource] = struct{}{}
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "cacheEntryAgeSeconds",
			Help:        "Age of the cached entry per resource; -1 when empty",
			ConstLabels: prometheus.Labels{"resource": resource},
		},
		func() float64 {
			if v, ok := age(); ok {
				return v
			}
			return -1
		},
	))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
