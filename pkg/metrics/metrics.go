// Package metrics exposes the Prometheus registry shared by the helpdesk
// packages and dumps it for batch runs.
// All metrics are defined in their respective packages (client, pagination,
// ratelimit, cache, bulk) to maintain modularity and avoid circular dependencies.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes every gathered metric to path in the text exposition
// format, for the node_exporter textfile collector. The file is replaced
// atomically.
func WriteTextfile(path string) error {
	return WriteGathererTextfile(Gatherer, path)
}

// WriteGathererTextfile is WriteTextfile for an explicit gatherer.
func WriteGathererTextfile(g prometheus.Gatherer, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - helpdesk_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - helpdesk_request_duration_seconds{method} (Histogram): Attempt duration by method
//   - helpdesk_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - helpdesk_retries_total{error_class} (Counter): Retry attempts by error class
//   - helpdesk_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - helpdesk_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Quota Metrics (pkg/ratelimit):
//   - helpdesk_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - helpdesk_rate_limit_waits_total (Counter): Requests held until the window reset
//   - helpdesk_rate_limit_throttles_total (Counter): Requests throttled at the warning threshold
//
// Pipeline Metrics (pkg/pagination):
//   - helpdesk_export_pages_total{resource, outcome} (Counter): Page attempts by outcome
//   - helpdesk_export_records_fetched_total{resource} (Counter): Records decoded before filtering
//   - helpdesk_export_records_retained_total{resource} (Counter): Records kept after filter and cap
//
// Cache Metrics (pkg/cache):
//   - helpdesk_cache_hits_total (Counter): Pages served from Redis
//   - helpdesk_cache_misses_total (Counter): Cache lookups without a usable entry
//   - helpdesk_cache_written_bytes_total (Counter): Bytes written to the cache
//   - helpdesk_cache_errors_total{operation} (Counter): Cache operation errors
//
// Mutation Metrics (pkg/bulk):
//   - helpdesk_bulk_mutations_total{operation, outcome} (Counter): Mutation requests by outcome
//
// Example Prometheus Queries:
//
//   # Records dropped by filters
//   sum(helpdesk_export_records_fetched_total) - sum(helpdesk_export_records_retained_total)
//
//   # Quota pressure
//   helpdesk_rate_limit_remaining < 20
//
//   # Request Error Rate
//   rate(helpdesk_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(helpdesk_request_duration_seconds_bucket[5m]))
