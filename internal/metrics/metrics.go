package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultNoop    = "noop"
)

var (
	// Manifest metrics
	ManifestSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodprep_manifest_sync_total",
			Help: "Total number of manifest synchronizations by operation and result",
		},
		[]string{"op", "result"},
	)

	ManifestSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodprep_manifest_sync_duration_seconds",
			Help:    "Manifest synchronization duration in seconds, queue wait excluded",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ManifestDriftTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foodprep_manifest_drift_total",
			Help: "Total number of removals that found only half of an import/entry pair",
		},
	)

	// Catalog metrics
	CatalogItemsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foodprep_catalog_items_total",
			Help: "Number of items in the catalog store",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodprep_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodprep_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(ManifestSyncTotal)
	prometheus.MustRegister(ManifestSyncDuration)
	prometheus.MustRegister(ManifestDriftTotal)
	prometheus.MustRegister(CatalogItemsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
