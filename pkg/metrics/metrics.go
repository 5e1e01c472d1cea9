package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resource metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_containers_total",
			Help: "Total number of containers by status",
		},
		[]string{"status"},
	)

	ProcessorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_processors_total",
			Help: "Total number of processors by status",
		},
		[]string{"status"},
	)

	// Reconciliation metrics
	ReconcileCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_reconcile_cycles_total",
			Help: "Total number of reconcile tasks spawned by kind",
		},
		[]string{"kind"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_reconcile_duration_seconds",
			Help:    "Duration of a single reconcile invocation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ReconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_reconcile_errors_total",
			Help: "Total number of reconcile errors by kind",
		},
		[]string{"kind"},
	)

	// Queue metrics
	QueueBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_queue_blocked_total",
			Help: "Total number of queue admission denials by queue",
		},
		[]string{"queue"},
	)

	// Autoscaler metrics
	AutoscaleDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_autoscale_decisions_total",
			Help: "Total number of autoscale decisions by direction",
		},
		[]string{"direction"},
	)

	ProcessorPressure = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_processor_pressure",
			Help: "Last observed consumer-group backlog per processor",
		},
		[]string{"processor"},
	)

	// Meter metrics
	MeterEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_meter_events_total",
			Help: "Total number of meter events emitted",
		},
	)

	MeterEventFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_meter_event_failures_total",
			Help: "Total number of meter events that failed to reach the sink",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ContainersTotal,
		ProcessorsTotal,
		ReconcileCyclesTotal,
		ReconcileDuration,
		ReconcileErrorsTotal,
		QueueBlockedTotal,
		AutoscaleDecisionsTotal,
		ProcessorPressure,
		MeterEventsTotal,
		MeterEventFailures,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
