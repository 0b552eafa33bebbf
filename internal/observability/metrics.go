package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the state API.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. SSE streams observe their whole lifetime.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent HTTP requests, including open SSE streams.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream weather API calls by status label.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream weather API latency. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Settled fetches by outcome ("success" or an error category).
	WeatherFetchesTotal *prometheus.CounterVec

	// Fetches started but not yet settled. More than 1 means overlapping calls.
	WeatherFetchesInProgress prometheus.Gauge

	// Settles dropped because a newer fetch had started (stale suppression only).
	WeatherFetchStaleDiscardedTotal prometheus.Counter

	// Fetch calls ignored because the city was empty.
	WeatherFetchSkippedTotal prometheus.Counter

	// Per-city fetch count (allow-list; others go to "other").
	WeatherFetchesByCityTotal *prometheus.CounterVec

	// Open state subscriptions (SSE clients and in-process listeners).
	StateSubscribers prometheus.Gauge

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}
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
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherFetchesTotal",
			Help: "Settled weather fetches by outcome",
		},
		[]string{"outcome"},
	)
	WeatherFetchesInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weatherFetchesInProgress",
			Help: "Weather fetches started and not yet settled",
		},
	)
	WeatherFetchStaleDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherFetchStaleDiscardedTotal",
			Help: "Fetch settles discarded because a newer fetch was issued",
		},
	)
	WeatherFetchSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherFetchSkippedTotal",
			Help: "Fetch calls ignored because the city was empty",
		},
	)
	WeatherFetchesByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherFetchesByCityTotal",
			Help: "Weather fetches by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	StateSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stateSubscribers",
			Help: "Number of open weather state subscriptions",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration,
		WeatherFetchesTotal, WeatherFetchesInProgress,
		WeatherFetchStaleDiscardedTotal, WeatherFetchSkippedTotal,
		WeatherFetchesByCityTotal, StateSubscribers,
	)
}

// SetTrackedCities sets the allow-list for per-city metrics. Other cities increment "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// MetricCityLabel returns the city label used by per-city metrics.
func MetricCityLabel(city string) string {
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

// RecordFetch records that a fetch was issued for city.
func RecordFetch(city string) {
	WeatherFetchesByCityTotal.WithLabelValues(MetricCityLabel(city)).Inc()
}

func normalizeCityForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
