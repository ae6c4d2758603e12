package graphqlapp

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// promExecutionCounter counts GraphQL executions by executor and outcome
	promExecutionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphql_executions_total",
			Help: "A counter of GraphQL executions",
		},
		[]string{
			"executor",
			"outcome",
		},
	)

	promExecutionsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphql_executions_in_flight",
			Help: "A gauge of GraphQL executions currently running",
		},
		[]string{
			"executor",
		},
	)

	promExecutionDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphql_execution_duration_seconds",
			Help:    "A histogram of GraphQL execution latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{
			"executor",
		},
	)

	// promHTTPInFlightGauge is a gauge of requests currently being served by the wrapped handler
	promHTTPInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "A gauge of requests currently being served",
	})

	// promHTTPRequestCounter is a counter for requests to the wrapped handler
	promHTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_api_requests_total",
			Help: "A counter for served requests",
		},
		[]string{"code"},
	)

	// promHTTPResponseDurations is a histogram of request latencies
	promHTTPResponseDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_duration_seconds",
			Help:    "A histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{},
	)

	// promHTTPRequestSizes is a histogram of request sizes for requests
	promHTTPRequestSizes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "A histogram of request sizes for requests",
			Buckets: prometheus.ExponentialBuckets(128, 2, 10),
		},
		[]string{},
	)

	// promHTTPResponseSizes is a histogram of response sizes for responses.
	promHTTPResponseSizes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "A histogram of response sizes for responses",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
		},
		[]string{},
	)

	// promUploadSizes is a histogram of multipart upload body sizes
	promUploadSizes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_upload_size_bytes",
			Help:    "A histogram of multipart upload sizes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{},
	)
)

// RegisterMetrics register the prometheus metrics.
func RegisterMetrics() {
	prometheus.MustRegister(promExecutionCounter)
	prometheus.MustRegister(promExecutionsInFlight)
	prometheus.MustRegister(promExecutionDurations)
	prometheus.MustRegister(promHTTPInFlightGauge)
	prometheus.MustRegister(promHTTPRequestCounter)
	prometheus.MustRegister(promHTTPResponseDurations)
	prometheus.MustRegister(promHTTPRequestSizes)
	prometheus.MustRegister(promHTTPResponseSizes)
	prometheus.MustRegister(promUploadSizes)
}

// NewMetricsHandler returns a new Prometheus metrics handler.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)

	return mux
}
