package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/ambient-gateway/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (sensor node offline) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. /describe is dominated by local inference time.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Ollama generate calls by status. Watch for: error vs success ratio.
	ModelCallsTotal *prometheus.CounterVec

	// Ollama latency. Local models are slow; p99 near the configured timeout means fallbacks are coming.
	ModelDuration *prometheus.HistogramVec

	// Model failures by category (timeout, network, upstream_status, response, circuit_open).
	ModelErrorsTotal *prometheus.CounterVec

	// Open-Meteo calls by status.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Open-Meteo latency.
	WeatherAPIDuration *prometheus.HistogramVec

	// Outside temperature lookups by result: disabled, client, fresh, refreshed, stale, unavailable.
	OutsideTempLookupsTotal *prometheus.CounterVec

	// Cache backend errors by operation (get, set).
	CacheErrorsTotal *prometheus.CounterVec

	// Concurrent refreshes of the outside temperature entry. Duplicates are allowed; this shows how many.
	CacheRefreshConcurrency prometheus.Histogram

	// Describe outcomes: model, fallback, invalid.
	DescribeOutcomesTotal *prometheus.CounterVec

	// Rate limit denials on /describe.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Scheduled cache warm runs and their failures.
	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter

	trafficGaugesOnce sync.Once
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
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ModelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelCallsTotal",
			Help: "Total number of language model generate calls",
		},
		[]string{"status"},
	)
	ModelDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelDurationSeconds",
			Help:    "Language model latency in seconds (per call)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)
	ModelErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelErrorsTotal",
			Help: "Language model failures by category; each one produced a fallback description",
		},
		[]string{"category"},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	OutsideTempLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outsideTempLookupsTotal",
			Help: "Outside temperature lookups by result",
		},
		[]string{"result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CacheRefreshConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheRefreshConcurrency",
			Help:    "Number of concurrent outside temperature refreshes observed when a refresh starts",
			Buckets: []float64{1, 2, 3, 5, 10},
		},
	)
	DescribeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "describeOutcomesTotal",
			Help: "Describe requests by outcome (model, fallback, invalid)",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per component (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Scheduled outside temperature refresh runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Scheduled refresh runs that did not produce a fresh value",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ModelCallsTotal, ModelDuration, ModelErrorsTotal,
		WeatherAPICallsTotal, WeatherAPIDuration,
		OutsideTempLookupsTotal, CacheErrorsTotal, CacheRefreshConcurrency,
		DescribeOutcomesTotal, RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal,
	)
}

// RegisterTrafficGauges registers sliding-window gauges backed by the traffic tracker.
// Call once from main with the same window /ready uses.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "fallbacksInWindow",
					Help: "Fallback descriptions served in the sliding window",
				},
				func() float64 {
					fallbacks, _ := traffic.FallbackRate(window)
					return float64(fallbacks)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
// state values: 0 closed, 1 open, 2 half-open.
func RecordCircuitBreakerTransition(component, from, to string, state int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// StatusLabel maps an upstream HTTP status code to a low-cardinality label.
func StatusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
