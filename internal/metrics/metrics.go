// Package metrics provides Prometheus collectors for the leaderboard service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "leaderboard"

// Outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Manager owns a private registry and every collector of the service.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	submissions       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	kafkaMessages     *prometheus.CounterVec
	wsConnections     prometheus.Gauge
	wsBroadcasts      prometheus.Counter
	snapshotRuns      *prometheus.CounterVec
	snapshotEntries   prometheus.Counter
	snapshotDuration  prometheus.Histogram
}

// NewManager creates a Manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: defaultNamespace,
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.operations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "operations_total",
		Help:      "Service operations by name and outcome",
	}, []string{"operation", "outcome"})

	m.operationDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "operation_duration_seconds",
		Help:      "Service operation latency in seconds",
		Buckets:   m.buckets,
	}, []string{"operation"})

	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "submissions_total",
		Help:      "Accepted score submissions by source",
	}, []string{"source"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   m.buckets,
	}, []string{"route", "method"})

	m.kafkaMessages = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "kafka",
		Name:      "messages_total",
		Help:      "Consumed Kafka messages by outcome",
	}, []string{"outcome"})

	m.wsConnections = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "websocket",
		Name:      "connections",
		Help:      "Currently connected WebSocket clients",
	})

	m.wsBroadcasts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "websocket",
		Name:      "broadcasts_total",
		Help:      "Messages fanned out to WebSocket channels",
	})

	m.snapshotRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "snapshot",
		Name:      "runs_total",
		Help:      "Snapshot cycles by outcome",
	}, []string{"outcome"})

	m.snapshotEntries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "snapshot",
		Name:      "entries_total",
		Help:      "Ranking entries written to snapshots",
	})

	m.snapshotDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "snapshot",
		Name:      "duration_seconds",
		Help:      "Snapshot cycle duration in seconds",
		Buckets:   m.buckets,
	})
}

// Registry returns the registry the collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterReadiness exports ready() as a 0/1 gauge.
func (m *Manager) RegisterReadiness(ready func() bool) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "store_ready",
		Help:      "Whether the score store connection is ready",
	}, func() float64 {
		if ready() {
			return 1
		}
		return 0
	})
}

// ObserveOperation records one service operation.
func (m *Manager) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordSubmission counts an accepted submission.
func (m *Manager) RecordSubmission(source string) {
	m.submissions.WithLabelValues(source).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Manager) ObserveHTTPRequest(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordKafkaMessage counts a consumed message.
func (m *Manager) RecordKafkaMessage(outcome string) {
	m.kafkaMessages.WithLabelValues(outcome).Inc()
}

// SetWebSocketConnections sets the number of connected clients.
func (m *Manager) SetWebSocketConnections(n int) {
	m.wsConnections.Set(float64(n))
}

// RecordBroadcast counts a fanned-out message.
func (m *Manager) RecordBroadcast() {
	m.wsBroadcasts.Inc()
}

// ObserveSnapshot records one snapshot cycle.
func (m *Manager) ObserveSnapshot(entries int, elapsed time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.snapshotRuns.WithLabelValues(outcome).Inc()
	m.snapshotEntries.Add(float64(entries))
	m.snapshotDuration.Observe(elapsed.Seconds())
}
