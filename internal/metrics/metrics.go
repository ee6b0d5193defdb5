// Package metrics provides Prometheus metrics for the picker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backend API metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpicker_api_requests_total",
			Help: "Total number of Stack AI API requests",
		},
		[]string{"operation", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbpicker_api_request_duration_seconds",
			Help:    "Stack AI API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Tree metrics
	childrenFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpicker_children_fetches_total",
			Help: "Folder listings fetched, by result",
		},
		[]string{"result"},
	)

	fetchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbpicker_children_fetches_in_flight",
			Help: "Folder listings currently being fetched",
		},
	)

	selectedResources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbpicker_selected_resources",
			Help: "Number of ids in the current selection",
		},
	)

	// Knowledge base metrics
	knowledgeBaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpicker_knowledge_base_operations_total",
			Help: "Knowledge base operations (create, sync, remove), by result",
		},
		[]string{"operation", "result"},
	)

	syncWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbpicker_sync_wait_duration_seconds",
			Help:    "Time until every indexed resource reported synchronized",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest records one backend request. Status 0 means the request
// never got a response.
func RecordAPIRequest(operation string, status int, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	apiRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordChildrenFetch records the result of one folder listing.
func RecordChildrenFetch(success bool) {
	childrenFetchesTotal.WithLabelValues(result(success)).Inc()
}

// SetFetchesInFlight sets the number of listings in flight.
func SetFetchesInFlight(n int) {
	fetchesInFlight.Set(float64(n))
}

// SetSelectedResources sets the current selection size.
func SetSelectedResources(n int) {
	selectedResources.Set(float64(n))
}

// RecordKnowledgeBaseOperation records a create, sync or remove outcome.
func RecordKnowledgeBaseOperation(operation string, success bool) {
	knowledgeBaseOperationsTotal.WithLabelValues(operation, result(success)).Inc()
}

// RecordSyncWait records how long a sync took to settle.
func RecordSyncWait(duration time.Duration) {
	syncWaitDuration.Observe(duration.Seconds())
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
