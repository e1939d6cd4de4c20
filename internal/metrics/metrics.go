package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/better-wallet/smart-account/pkg/errors"
)

const namespace = "smart_account"

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics groups the engine, relay and HTTP collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	actions    *prometheus.HistogramVec
	relayCalls *prometheus.HistogramVec
	requests   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

// New creates the collectors and registers them with Go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of account engine actions by outcome.",
			Buckets:   durationBuckets,
		}, []string{"action", "outcome"}),
		relayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_call_duration_seconds",
			Help:      "Duration of relay JSON-RPC calls by method and outcome.",
			Buckets:   durationBuckets,
		}, []string{"method", "outcome"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by route, method and status.",
			Buckets:   durationBuckets,
		}, []string{"route", "method", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.actions,
		m.relayCalls,
		m.requests,
		m.inFlight,
	)
	return m
}

// ObserveAction records an engine action
func (m *Metrics) ObserveAction(action string, duration time.Duration, err error) {
	m.actions.WithLabelValues(action, outcome(err)).Observe(duration.Seconds())
}

// ObserveRelayCall records a relay round trip
func (m *Metrics) ObserveRelayCall(method string, duration time.Duration, err error) {
	m.relayCalls.WithLabelValues(method, outcome(err)).Observe(duration.Seconds())
}

// ObserveRequest records a served HTTP request
func (m *Metrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RequestStarted tracks an in-flight request; call the returned func when it completes
func (m *Metrics) RequestStarted() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// outcome labels an error by its application code
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "error"
}
