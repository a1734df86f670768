package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipserve"

// Metrics holds the service's Prometheus registry and collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
}

// NewMetrics creates an isolated registry with the request and inference collectors plus
// the Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Duration of calls into the CLIP model",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.inferenceDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRequest counts a finished API request. outcome is "success" or an error kind.
func (m *Metrics) ObserveRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveInference records how long a model call took.
func (m *Metrics) ObserveInference(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
