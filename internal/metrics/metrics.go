// Package metrics exposes Prometheus collectors for the gateway. All public
// functions are safe to call from hot paths.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	proxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywarp_proxy_requests_total",
		Help: "Total proxied requests by upstream status class (2xx..5xx, or error)",
	}, []string{"class"})
	upstreamDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxywarp_upstream_duration_seconds",
		Help:    "Upstream round-trip duration for proxied requests",
		Buckets: prometheus.DefBuckets,
	})
	htmlRewritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxywarp_html_rewrites_total",
		Help: "Total HTML responses passed through the rewriter",
	})
	resolveOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywarp_resolve_outcomes_total",
		Help: "Token resolution outcomes by source (cache, directory, referer, reload, miss)",
	}, []string{"source"})
	tokenAllocationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxywarp_token_allocations_total",
		Help: "Total newly allocated tokens",
	})
	directoryEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxywarp_directory_entries",
		Help: "Number of token entries currently held in the directory",
	})
	directorySavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywarp_directory_saves_total",
		Help: "Token directory persistence attempts by result",
	}, []string{"result"})
	directoryLoadErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxywarp_directory_load_errors_total",
		Help: "Token directory load failures (read or parse)",
	})
)

func init() {
	prometheus.MustRegister(
		proxyRequestsTotal,
		upstreamDuration,
		htmlRewritesTotal,
		resolveOutcomesTotal,
		tokenAllocationsTotal,
		directoryEntries,
		directorySavesTotal,
		directoryLoadErrorsTotal,
	)
}

// ObserveProxyRequest records one proxied request. A status of 0 means the
// round trip failed before a response arrived.
func ObserveProxyRequest(status int, elapsed time.Duration) {
	class := "error"
	if status >= 100 {
		class = strconv.Itoa(status/100) + "xx"
	}
	proxyRequestsTotal.WithLabelValues(class).Inc()
	upstreamDuration.Observe(elapsed.Seconds())
}

// HTMLRewritten records one response handled by the HTML rewriter.
func HTMLRewritten() {
	htmlRewritesTotal.Inc()
}

// ResolveOutcome records where a subdomain token was resolved from.
func ResolveOutcome(source string) {
	resolveOutcomesTotal.WithLabelValues(source).Inc()
}

// TokenAllocated records a fresh token allocation.
func TokenAllocated() {
	tokenAllocationsTotal.Inc()
}

// SetDirectoryEntries tracks the live directory size.
func SetDirectoryEntries(n int) {
	directoryEntries.Set(float64(n))
}

// DirectorySave records a persistence attempt.
func DirectorySave(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	directorySavesTotal.WithLabelValues(result).Inc()
}

// DirectoryLoadError records a failed directory load.
func DirectoryLoadError() {
	directoryLoadErrorsTotal.Inc()
}

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
