package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limit denials (429s).
	RateLimitDeniedTotal prometheus.Counter

	// Upstream weather API call rate by outcome.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts against the weather API. High retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Circuit breaker transitions around the weather API.
	BreakerTransitionsTotal *prometheus.CounterVec

	// Cache traffic. Hit rate = hits/(hits+misses).
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheWritesTotal prometheus.Counter

	// Overflow evictions beyond the entry bound.
	CacheEvictionsTotal prometheus.Counter

	// Cache/store failures by operation. Read failures degrade to misses;
	// write failures never fail a live fetch.
	CacheErrorsTotal *prometheus.CounterVec

	// Live fetches that joined an in-flight fetch for the same city instead of
	// issuing their own upstream call.
	CoalescedFetchesTotal prometheus.Counter

	// Requests answered from cache because the upstream was unreachable.
	OfflineFallbackServesTotal prometheus.Counter

	// Age of cache entries at the moment they were served as a fallback.
	OfflineFallbackAgeMinutes prometheus.Histogram

	// Background refresh runs by terminal outcome (success, failure, expired).
	BackgroundRunsTotal *prometheus.CounterVec

	// Wall-clock duration of background runs. The budget is ~30s; watch the
	// upper buckets.
	BackgroundRunDuration prometheus.Histogram

	// Per-favorite fetch outcomes inside background runs.
	BackgroundFetchesTotal *prometheus.CounterVec

	// Submission failures from the background task scheduler, by reason.
	SchedulingFailuresTotal *prometheus.CounterVec
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
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of upstream weather API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Upstream weather API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions for the weather API",
		},
		[]string{"from", "to"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of weather cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of weather cache misses",
		},
	)
	CacheWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWritesTotal",
			Help: "Total number of weather cache upserts",
		},
	)
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Entries evicted to hold the cache under its size bound",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Storage failures during cache operations",
		},
		[]string{"operation"},
	)
	CoalescedFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedFetchesTotal",
			Help: "Live fetches served by joining an in-flight fetch for the same city",
		},
	)
	OfflineFallbackServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offlineFallbackServesTotal",
			Help: "Requests answered from cache because the upstream was unreachable",
		},
	)
	OfflineFallbackAgeMinutes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offlineFallbackAgeMinutes",
			Help:    "Age in minutes of cache entries served as offline fallback",
			Buckets: []float64{1, 5, 15, 30, 60, 180, 720, 1440},
		},
	)
	BackgroundRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgroundRunsTotal",
			Help: "Background refresh runs by terminal outcome",
		},
		[]string{"outcome"},
	)
	BackgroundRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backgroundRunDurationSeconds",
			Help:    "Wall-clock duration of background refresh runs",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
	BackgroundFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgroundFetchesTotal",
			Help: "Per-favorite fetch outcomes inside background runs",
		},
		[]string{"result"},
	)
	SchedulingFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedulingFailuresTotal",
			Help: "Background task submission failures by reason",
		},
		[]string{"reason"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight, RateLimitDeniedTotal,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, BreakerTransitionsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheWritesTotal, CacheEvictionsTotal, CacheErrorsTotal,
		CoalescedFetchesTotal, OfflineFallbackServesTotal, OfflineFallbackAgeMinutes,
		BackgroundRunsTotal, BackgroundRunDuration, BackgroundFetchesTotal, SchedulingFailuresTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
