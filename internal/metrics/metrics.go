// Package metrics exposes Prometheus collectors for the indexer service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	indexerPagesTotal             *prometheus.CounterVec
	indexerBytesTotal             *prometheus.CounterVec
	indexerUpsertsTotal           *prometheus.CounterVec
	indexerSearchesTotal          *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	indexerJobsTotal              *prometheus.CounterVec
	indexerActiveWorkers          prometheus.Gauge
	indexerRateLimitDelaysSeconds *prometheus.HistogramVec
	indexerRobotsFallbackTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		indexerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_pages_total",
				Help: "Total number of frontier entries finished, labeled by site and state.",
			},
			[]string{"site", "state"},
		)

		indexerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		indexerUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_upserts_total",
				Help: "Total number of index upserts, labeled by result.",
			},
			[]string{"result"},
		)

		indexerSearchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_searches_total",
				Help: "Total number of search queries, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		indexerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_jobs_total",
				Help: "Total number of index jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		indexerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		indexerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
		)

		indexerRobotsFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_robots_fallback_total",
				Help: "Total robots.txt fetches that timed out and fell back to allow-all.",
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records a frontier entry reaching state.
func ObservePage(site string, state string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	indexerPagesTotal.WithLabelValues(sanitizedSite, state).Inc()
	if bytesFetched > 0 {
		indexerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveUpsert counts an index upsert attempt.
func ObserveUpsert(err error) {
	Init()
	indexerUpsertsTotal.WithLabelValues(result(err)).Inc()
}

// ObserveSearch counts a search query.
func ObserveSearch(err error) {
	Init()
	indexerSearchesTotal.WithLabelValues(result(err)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	indexerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	indexerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	indexerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	indexerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt fetch that fell back to allow-all.
func ObserveRobotsFallback(domain string) {
	Init()
	indexerRobotsFallbackTotal.WithLabelValues(domain).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
