package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	QueriesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_queries_dispatched_total",
			Help: "Total number of dispatched queries by outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prism_dispatch_duration_seconds",
			Help:    "Time taken to fan out a query to all servers in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SerializationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prism_plan_serialization_duration_seconds",
			Help:    "Time taken to serialize all stage plans in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_dispatch_failures_total",
			Help: "Total number of dispatch failures by kind",
		},
		[]string{"kind"},
	)

	ServersPerQuery = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prism_servers_per_query",
			Help:    "Number of servers participating in a dispatched query",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	// Reduce metrics
	ReduceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prism_reduce_duration_seconds",
			Help:    "Time taken by the broker reduce stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReduceRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prism_reduce_rows_total",
			Help: "Total number of rows assembled by the reduce stage",
		},
	)

	ReduceBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prism_reduce_blocks_total",
			Help: "Total number of data blocks drained by the reduce stage",
		},
	)

	// Cancel metrics
	CancelsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prism_cancels_sent_total",
			Help: "Total number of cancel signals sent to servers",
		},
	)

	CancelFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prism_cancel_failures_total",
			Help: "Total number of cancel signals that failed to send",
		},
	)

	// Time-series metrics
	TimeSeriesQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_timeseries_queries_total",
			Help: "Total number of time-series queries by outcome",
		},
		[]string{"outcome"},
	)

	// Client pool metrics
	PooledClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prism_pooled_clients",
			Help: "Number of cached clients by pool",
		},
		[]string{"pool"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(QueriesDispatched)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(SerializationDuration)
	prometheus.MustRegister(DispatchFailures)
	prometheus.MustRegister(ServersPerQuery)
	prometheus.MustRegister(ReduceDuration)
	prometheus.MustRegister(ReduceRows)
	prometheus.MustRegister(ReduceBlocks)
	prometheus.MustRegister(CancelsSent)
	prometheus.MustRegister(CancelFailures)
	prometheus.MustRegister(TimeSeriesQueries)
	prometheus.MustRegister(PooledClients)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
