// Package metrics exposes the engine's Prometheus instruments. Every method
// is safe on a nil *Metrics, so library code can record unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tessera"

// Path labels.
const (
	PathFixed    = "fixed"
	PathFlexible = "flexible"
)

// Metrics holds the instruments of one process, registered on their own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	steps         *prometheus.CounterVec
	negotiation   *prometheus.HistogramVec
	bytesFetched  prometheus.Counter
	bytesExposed  prometheus.Counter
	receiveBuffer prometheus.Gauge
	endOfStream   *prometheus.CounterVec
	notReady      prometheus.Counter
}

// New creates the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Completed steps by role and synchronization path.",
		}, []string{"role", "path"}),
		negotiation: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_seconds",
			Help:      "Time spent in BeginStep or EndStep work by role and path.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"role", "path"}),
		bytesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Bytes fetched from writers, control bytes included.",
		}),
		bytesExposed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exposed_bytes_total",
			Help:      "Bytes exposed to readers, control bytes included.",
		}),
		receiveBuffer: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receive_buffer_bytes",
			Help:      "Size of the current receive buffer.",
		}),
		endOfStream: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "end_of_stream_total",
			Help:      "Streams that reached end of stream, by role.",
		}, []string{"role"}),
		notReady: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "not_ready_total",
			Help:      "BeginStep calls that timed out.",
		}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStep counts a completed step and records how long its work took.
func (m *Metrics) ObserveStep(role, path string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(role, path).Inc()
	m.negotiation.WithLabelValues(role, path).Observe(d.Seconds())
}

// AddFetched counts fetched bytes.
func (m *Metrics) AddFetched(n int) {
	if m == nil {
		return
	}
	m.bytesFetched.Add(float64(n))
}

// AddExposed counts exposed bytes.
func (m *Metrics) AddExposed(n int) {
	if m == nil {
		return
	}
	m.bytesExposed.Add(float64(n))
}

// SetReceiveBuffer records the receive buffer size.
func (m *Metrics) SetReceiveBuffer(n uint64) {
	if m == nil {
		return
	}
	m.receiveBuffer.Set(float64(n))
}

// EndOfStream counts a stream ending for role.
func (m *Metrics) EndOfStream(role string) {
	if m == nil {
		return
	}
	m.endOfStream.WithLabelValues(role).Inc()
}

// NotReady counts a timed-out BeginStep.
func (m *Metrics) NotReady() {
	if m == nil {
		return
	}
	m.notReady.Inc()
}
