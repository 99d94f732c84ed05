package manager

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments one Manager instance reports.
// Kind distinguishes the audio Manager's series from the video Manager's
// via the metric name prefix (sfu_<kind>_...), giving two parallel metric sets.
type Metrics struct {
	kind string

	sessions       prometheus.Gauge
	requestsTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	startDuration  prometheus.Histogram
}

// NewMetrics registers (once) and returns the instrument set for kind
// ("audio" or "video") against reg.
func NewMetrics(reg prometheus.Registerer, kind string) *Metrics {
	m := &Metrics{
		kind: kind,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sfu_" + kind + "_sessions",
			Help: "Number of live " + kind + " sessions.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfu_" + kind + "_reqs_total",
			Help: "Inbound messages handled by the " + kind + " manager, by method.",
		}, []string{"method"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfu_" + kind + "_errors_total",
			Help: "Failures handling an inbound message, by method and error code.",
		}, []string{"method", "error_code"}),
		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sfu_" + kind + "_start_duration_seconds",
			Help:    "Time from receiving a start message to returning its SDP answer.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.sessions, m.requestsTotal, m.errorsTotal, m.startDuration)
	return m
}

func (m *Metrics) SessionStarted()              { m.sessions.Inc() }
func (m *Metrics) SessionStopped()              { m.sessions.Dec() }
func (m *Metrics) Request(method string)        { m.requestsTotal.WithLabelValues(method).Inc() }
func (m *Metrics) Error(method string, code int) {
	m.errorsTotal.WithLabelValues(method, codeLabel(code)).Inc()
}
func (m *Metrics) ObserveStartDuration(seconds float64) { m.startDuration.Observe(seconds) }

func codeLabel(code int) string {
	if code == 0 {
		return "unknown"
	}
	return strconv.Itoa(code)
}
