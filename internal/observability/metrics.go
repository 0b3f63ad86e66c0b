package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. It also
// implements bubbles.Recorder.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	WSWriteErrors  *prometheus.CounterVec
	BubbleEvents   *prometheus.CounterVec
	ReadingPause   prometheus.Histogram

	holds *holdWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active conversation sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by reason.",
		}, []string{"reason"}),
		BubbleEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bubble_events_total",
			Help:      "Bubble queue events by type.",
		}, []string{"event"}),
		ReadingPause: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reading_pause_ms",
			Help:      "Reading pause armed before the next bubble, in milliseconds.",
			Buckets:   []float64{1500, 2000, 3000, 4000, 5000, 6000, 7000, 8000},
		}),
		holds: newHoldWindow(512),
	}
}

func (m *Metrics) ObserveBubbleEvent(event string) {
	m.BubbleEvents.WithLabelValues(event).Inc()
	m.holds.ObserveIndicator(event)
}

func (m *Metrics) ObserveReadingPause(d time.Duration) {
	ms := float64(d.Milliseconds())
	m.ReadingPause.Observe(ms)
	m.holds.Observe("reading_pause", ms)
}

// ObserveHold records how long a bubble of the given kind stayed on screen.
func (m *Metrics) ObserveHold(kind string, d time.Duration) {
	m.holds.Observe(kind, float64(d.Milliseconds()))
}

// HoldSnapshot summarizes the recent pause and hold samples.
func (m *Metrics) HoldSnapshot() HoldSnapshot {
	return m.holds.Snapshot()
}

func (m *Metrics) ResetHolds() {
	m.holds.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
