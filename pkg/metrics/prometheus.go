package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the per-process collector bundle registered on first InitMetrics call.
type Metrics struct {
	// gRPC metrics
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight prometheus.Gauge

	// C7 id allocator
	IDAllocOperationsTotal *prometheus.CounterVec
	IDAllocDuration        *prometheus.HistogramVec
	IDAllocRetries         *prometheus.HistogramVec

	// C3 module channel pool / C2 discovery
	PoolInstancesTotal  *prometheus.GaugeVec
	DiscoveryPollsTotal *prometheus.CounterVec

	// C10 container workflow
	ContainerStartupsTotal *prometheus.CounterVec
	ContainerStartupSecs   *prometheus.HistogramVec

	// System metrics
	MemoryUsage *prometheus.GaugeVec
	Goroutines  prometheus.Gauge

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics initializes and registers the global collector bundle.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		GRPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),

		GRPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_in_flight",
				Help:      "Current number of in-flight gRPC requests",
			},
		),

		IDAllocOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "id_alloc_operations_total",
				Help:      "Total number of id allocations by generator and outcome",
			},
			[]string{"generator", "outcome"},
		),

		IDAllocDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "id_alloc_duration_seconds",
				Help:      "Duration of one id allocation call",
				Buckets:   []float64{.00001, .0001, .001, .01, .1, 1},
			},
			[]string{"generator"},
		),

		IDAllocRetries: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "id_alloc_retries",
				Help:      "Number of CAS retries consumed by an allocation call",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
			[]string{"generator"},
		),

		PoolInstancesTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_instances_total",
				Help:      "Instances currently known to a module's channel pool",
			},
			[]string{"module"},
		),

		DiscoveryPollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "discovery_polls_total",
				Help:      "Total discovery watcher polls by module and outcome",
			},
			[]string{"module", "outcome"},
		),

		ContainerStartupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "container_startups_total",
				Help:      "Total container startup workflow runs by outcome",
			},
			[]string{"outcome"},
		),

		ContainerStartupSecs: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "container_startup_seconds",
				Help:      "Duration of the full startup workflow (digest, snapshot, task)",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),

		MemoryUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage",
			},
			[]string{"type"},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global collector bundle, initializing a default one if needed.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("jobjudge", "")
	}
	return defaultMetrics
}

// RecordGRPCRequest records one gRPC request's outcome and latency.
func (m *Metrics) RecordGRPCRequest(method string, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordIDAlloc records one id-generator call (generator is "segment" or "snowflake").
func (m *Metrics) RecordIDAlloc(generator, outcome string, duration time.Duration, retries int) {
	m.IDAllocOperationsTotal.WithLabelValues(generator, outcome).Inc()
	m.IDAllocDuration.WithLabelValues(generator).Observe(duration.Seconds())
	m.IDAllocRetries.WithLabelValues(generator).Observe(float64(retries))
}

// SetPoolInstances records the current instance count known to a module's pool.
func (m *Metrics) SetPoolInstances(module string, count int) {
	m.PoolInstancesTotal.WithLabelValues(module).Set(float64(count))
}

// RecordDiscoveryPoll records one discovery watcher poll outcome.
func (m *Metrics) RecordDiscoveryPoll(module, outcome string) {
	m.DiscoveryPollsTotal.WithLabelValues(module, outcome).Inc()
}

// RecordContainerStartup records a full container startup workflow run.
func (m *Metrics) RecordContainerStartup(outcome string, stageDurations map[string]time.Duration) {
	m.ContainerStartupsTotal.WithLabelValues(outcome).Inc()
	for stage, d := range stageDurations {
		m.ContainerStartupSecs.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// SetServiceInfo publishes the running service's version/environment as a gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer runs the blocking HTTP server exposing /metrics and /health.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write error is not actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
