// Package metrics exposes Prometheus instrumentation for extrinsic
// submissions and chain RPC traffic.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flchain"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	submissions  *prometheus.CounterVec
	finalization *prometheus.HistogramVec
	statuses     *prometheus.CounterVec
	rpcRequests  *prometheus.CounterVec
	rpcLatency   *prometheus.HistogramVec
	connections  prometheus.Counter
}

var (
	defaultOnce sync.Once
	defaultReg  *Metrics
)

// Default returns the collectors registered with the global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultReg = New(prometheus.DefaultRegisterer)
	})
	return defaultReg
}

// New builds and registers a fresh set of collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Extrinsic submissions by call and final outcome.",
		}, []string{"method", "outcome"}),
		finalization: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalization_seconds",
			Help:      "Time from submission to a terminal outcome.",
			Buckets:   []float64{1, 3, 6, 12, 18, 24, 36, 60, 120, 300},
		}, []string{"method"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extrinsic_status_total",
			Help:      "Transaction pool status notifications received.",
		}, []string{"status"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests by method and status.",
		}, []string{"method", "status"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "JSON-RPC round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Websocket connections dialed.",
		}),
	}
	reg.MustRegister(m.submissions, m.finalization, m.statuses, m.rpcRequests, m.rpcLatency, m.connections)
	return m
}

// ObserveRPC records one request. Status is ok, error (the node answered
// with an error object) or transport.
func (m *Metrics) ObserveRPC(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	var coded interface{ ErrorCode() int }
	switch {
	case err == nil:
	case errors.As(err, &coded):
		status = "error"
	default:
		status = "transport"
	}
	m.rpcRequests.WithLabelValues(method, status).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveSubmission records the terminal outcome of one submission.
func (m *Metrics) ObserveSubmission(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(method, outcome).Inc()
	m.finalization.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveStatus counts one transaction pool notification.
func (m *Metrics) ObserveStatus(status string) {
	if m == nil {
		return
	}
	m.statuses.WithLabelValues(status).Inc()
}

// ObserveDial counts a new connection.
func (m *Metrics) ObserveDial() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// Handler serves the global registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
