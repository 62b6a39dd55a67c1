// Package metrics exposes the Prometheus registry shared by yt-comments.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, fanout, exporter) to avoid circular dependencies.
//
// This package documents the available metrics and provides the HTTP
// handler and textfile export used by the CLI.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer used by promauto in every package.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects everything registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// WriteTextfile writes all metrics to path in the node_exporter textfile
// collector format. The file is written atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Quota Metrics (pkg/ratelimit):
//   - yt_quota_units_used (Gauge): Quota units spent in the current Pacific-time day
//   - yt_quota_blocks_total (Counter): Requests blocked because the quota reserve was reached
//   - yt_quota_throttles_total (Counter): Requests delayed because less than 10% quota remains
//
// Cache Metrics (pkg/cache):
//   - yt_cache_hits_total{state} (Counter): Cache hits, state is fresh or revalidated
//   - yt_cache_misses_total (Counter): Cache misses
//   - yt_cache_size_bytes (Gauge): Size of the last cached response body
//   - yt_304_responses_total (Counter): 304 Not Modified responses
//   - yt_conditional_requests_total (Counter): Conditional requests sent with If-None-Match
//   - yt_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - yt_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - yt_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - yt_errors_total{class} (Counter): Errors by class (client, server, rate_limit, quota, network)
//
// Retry Metrics (pkg/client):
//   - yt_retries_total{error_class} (Counter): Retry attempts by error class
//   - yt_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - yt_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Fan-out Metrics (pkg/fanout):
//   - yt_fanout_tasks_total{strategy, status} (Counter): Tasks by strategy and outcome
//   - yt_fanout_task_duration_seconds{strategy} (Histogram): Task duration
//   - yt_fanout_in_flight (Gauge): Tasks currently running
//
// Export Metrics (pkg/exporter):
//   - yt_videos_processed_total{status} (Counter): Videos by outcome (ok, skipped, failed)
//   - yt_export_rows (Gauge): Rows written by the last export
//   - yt_export_duration_seconds (Histogram): Export run duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(yt_cache_hits_total[5m])) /
//   (sum(rate(yt_cache_hits_total[5m])) + sum(rate(yt_cache_misses_total[5m])))
//
//   # Quota left today
//   10000 - yt_quota_units_used
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(yt_request_duration_seconds_bucket[5m]))
//
//   # Failed videos per run
//   increase(yt_videos_processed_total{status="failed"}[1h])
