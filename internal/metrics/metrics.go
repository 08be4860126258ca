// Package metrics exposes Prometheus collectors for the lookup service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourceScrapesTotal         *prometheus.CounterVec
	scrapeStageDuration        *prometheus.HistogramVec
	lookupsTotal               *prometheus.CounterVec
	lookupDurationSeconds      prometheus.Histogram
	browserSessions            prometheus.Gauge
	browserSessionInitsTotal   *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceScrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certlookup_source_scrapes_total",
				Help: "Total number of per-source scrapes, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		scrapeStageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certlookup_scrape_stage_duration_seconds",
				Help:    "Histogram of scrape protocol stage latencies, labeled by source and stage.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source", "stage"},
		)

		lookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certlookup_lookups_total",
				Help: "Total number of aggregate lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		lookupDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "certlookup_lookup_duration_seconds",
				Help:    "Histogram of aggregate lookup latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		)

		browserSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "certlookup_browser_sessions",
				Help: "Number of live browser sessions held by the pool.",
			},
		)

		browserSessionInitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certlookup_browser_session_inits_total",
				Help: "Total number of browser session launches, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certlookup_rate_limit_delays_seconds",
				Help:    "Histogram of outbound pacing waits, labeled by source.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveScrape counts one per-source scrape outcome.
func ObserveScrape(source, outcome string) {
	Init()
	sourceScrapesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveStage records how long one protocol stage took.
func ObserveStage(source, stage string, duration time.Duration) {
	Init()
	scrapeStageDuration.WithLabelValues(source, stage).Observe(duration.Seconds())
}

// ObserveLookup counts an aggregate lookup and its latency.
func ObserveLookup(found bool, duration time.Duration) {
	Init()
	outcome := "not_found"
	if found {
		outcome = "found"
	}
	lookupsTotal.WithLabelValues(outcome).Inc()
	lookupDurationSeconds.Observe(duration.Seconds())
}

// SetBrowserSessions sets the live session gauge.
func SetBrowserSessions(n int) {
	Init()
	browserSessions.Set(float64(n))
}

// ObserveSessionInit counts a session launch attempt.
func ObserveSessionInit(source string, err error) {
	Init()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	browserSessionInitsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of an outbound pacing wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
