// Package metrics exposes Prometheus collectors for the watchdog service.
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

// Result labels shared by the counters below.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultFetchError  = "fetch_error"
	ResultNotifyError = "notify_error"
)

var (
	watchdogRunsTotal      *prometheus.CounterVec
	newAdsTotal            prometheus.Counter
	notificationsTotal     *prometheus.CounterVec
	persistTotal           *prometheus.CounterVec
	fetchesTotal           *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	cycleDurationSeconds   prometheus.Histogram
	watchdogsGauge         prometheus.Gauge
	lastCycleTimestamp     prometheus.Gauge
	rateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		watchdogRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doggo_watchdog_runs_total",
				Help: "Total number of watchdog runs, labeled by result.",
			},
			[]string{"result"},
		)

		newAdsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "doggo_new_ads_total",
				Help: "Total number of ads seen for the first time.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doggo_notifications_total",
				Help: "Total number of notification emails, labeled by result.",
			},
			[]string{"result"},
		)

		persistTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doggo_persist_total",
				Help: "Total number of state snapshot writes, labeled by result.",
			},
			[]string{"result"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doggo_fetches_total",
				Help: "Total number of search page fetches, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doggo_fetch_duration_seconds",
				Help:    "Histogram of search page fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "doggo_cycle_duration_seconds",
				Help:    "Histogram of scheduler cycle durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		)

		watchdogsGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "doggo_watchdogs",
				Help: "Number of watchdogs in the store.",
			},
		)

		lastCycleTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "doggo_last_cycle_timestamp_seconds",
				Help: "Unix time at which the last scheduler cycle finished.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doggo_rate_limit_delays_seconds",
				Help:    "Histogram of per-host fetch throttling waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doggo_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doggo_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
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

// ObserveRun counts a watchdog run and the ads it found.
func ObserveRun(result string, newAds int) {
	watchdogRunsTotal.WithLabelValues(result).Inc()
	if newAds > 0 {
		newAdsTotal.Add(float64(newAds))
	}
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// ObservePersist counts a snapshot write.
func ObservePersist(result string) {
	persistTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records a search page fetch.
func ObserveFetch(site string, result string, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, result).Inc()
	fetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
}

// ObserveCycle records a finished scheduler cycle.
func ObserveCycle(watchdogs int, duration time.Duration, finishedAt time.Time) {
	cycleDurationSeconds.Observe(duration.Seconds())
	watchdogsGauge.Set(float64(watchdogs))
	lastCycleTimestamp.Set(float64(finishedAt.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
