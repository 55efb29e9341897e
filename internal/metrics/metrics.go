// Package metrics exposes Prometheus collectors for the archiver.
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
	pagesTotal                 *prometheus.CounterVec
	resourcesSavedTotal        *prometheus.CounterVec
	resourceBytesTotal         *prometheus.CounterVec
	storageRetriesTotal        *prometheus.CounterVec
	resolverRequestsTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_pages_total",
				Help: "Total number of pages visited, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		resourcesSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_resources_saved_total",
				Help: "Total number of resources written to the archive, labeled by resource type.",
			},
			[]string{"type"},
		)

		resourceBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_resource_bytes_total",
				Help: "Total number of bytes written to the archive, labeled by site.",
			},
			[]string{"site"},
		)

		storageRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_storage_retries_total",
				Help: "Total number of retried storage operations, labeled by backend.",
			},
			[]string{"backend"},
		)

		resolverRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_resolver_requests_total",
				Help: "Total number of archive lookups, labeled by result.",
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations for direct fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts a visited page.
func ObservePage(site, status string) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveResourceSaved counts an archived resource and its size.
func ObserveResourceSaved(site, resourceType string, size int) {
	Init()
	resourcesSavedTotal.WithLabelValues(resourceType).Inc()
	if size > 0 {
		resourceBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(size))
	}
}

// ObserveStorageRetry counts one retried storage call.
func ObserveStorageRetry(backend string) {
	Init()
	storageRetriesTotal.WithLabelValues(backend).Inc()
}

// ObserveResolve counts an archive lookup outcome: hit, fallback, miss, no_archive or rejected.
func ObserveResolve(result string) {
	Init()
	resolverRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
