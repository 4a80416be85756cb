// Package metrics exposes the Prometheus metrics of the pay client.
// Metrics are defined next to the code that records them (client,
// pagination, ratelimit) and registered via promauto on the default
// registry; this package serves them and documents what exists.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gatherer is the source Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an http.Handler serving every registered metric in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - payclient_requests_total{method, status} (Counter): Requests by method and HTTP status
//     (status is "network_error" or "rate_limited" when no response was received)
//   - payclient_request_duration_seconds{method} (Histogram): Request duration by method
//   - payclient_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client, only with MaxRetries > 0):
//   - payclient_retries_total{error_class} (Counter): Retry attempts by error class
//   - payclient_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - payclient_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// List Metrics (pkg/pagination):
//   - payclient_pages_in_flight (Gauge): Page requests currently outstanding
//   - payclient_page_fetches_total{outcome} (Counter): Page requests by outcome (success, error)
//   - payclient_lists_total{outcome} (Counter): List calls by outcome (success, count_error, page_error)
//   - payclient_list_duration_seconds (Histogram): Duration of successful list calls
//
// Rate Limit Metrics (pkg/ratelimit, only with a Redis client):
//   - payclient_rate_limit_remaining{token} (Gauge): Requests remaining in the current window
//     (token is the redacted credential plus a short digest, never the raw value)
//   - payclient_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - payclient_rate_limit_throttles_total (Counter): Requests delayed at the warning threshold
//
// Example Prometheus Queries:
//
//   # List failure rate
//   sum(rate(payclient_lists_total{outcome!="success"}[5m])) / sum(rate(payclient_lists_total[5m]))
//
//   # Concurrency actually used by list calls
//   max_over_time(payclient_pages_in_flight[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(payclient_request_duration_seconds_bucket[5m]))
//
//   # Remaining budget per credential
//   payclient_rate_limit_remaining < 20
