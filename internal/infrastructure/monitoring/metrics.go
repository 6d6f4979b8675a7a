// Package monitoring exposes Prometheus metrics for the terminal subsystem.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec // kind: shell|agent
	SessionsKilled prometheus.Counter

	// Reconnection metrics
	ReconnectAttempts prometheus.Counter
	ReconnectOutcomes *prometheus.CounterVec // result: connected|retry|exhausted
	ReconnectWaiting  prometheus.Gauge

	// Pane metrics
	PanesActive prometheus.Gauge
	Splits      *prometheus.CounterVec // direction: horizontal|vertical

	// Transport metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec // direction: in|out
	BytesOut      prometheus.Counter

	Uptime    prometheus.Gauge
	startTime time.Time
	gatherer  prometheus.Gatherer
}

// NewMetrics creates a new metrics collector registered with a private
// registry so repeated construction in tests does not panic.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

// NewMetricsWith registers the collectors against the given registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	gatherer, _ := reg.(prometheus.Gatherer)

	return &Metrics{
		startTime: time.Now(),
		gatherer:  gatherer,

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termpanel_sessions_active",
			Help: "Number of live terminal sessions",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termpanel_sessions_total",
			Help: "Total terminal sessions created",
		}, []string{"kind"}),
		SessionsKilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpanel_sessions_killed_total",
			Help: "Total sessions terminated by explicit close",
		}),

		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpanel_reconnect_attempts_total",
			Help: "Total reconnection attempts scheduled",
		}),
		ReconnectOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termpanel_reconnect_outcomes_total",
			Help: "Reconnection attempt outcomes",
		}, []string{"result"}),
		ReconnectWaiting: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termpanel_reconnect_waiting",
			Help: "Sessions currently waiting on a backoff timer",
		}),

		PanesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termpanel_panes_active",
			Help: "Number of leaf panes in the layout tree",
		}),
		Splits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termpanel_splits_total",
			Help: "Total pane splits performed",
		}, []string{"direction"}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termpanel_ws_connections",
			Help: "Open WebSocket surface connections",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termpanel_ws_messages_total",
			Help: "WebSocket messages by direction",
		}, []string{"direction"}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpanel_pty_bytes_out_total",
			Help: "PTY output bytes forwarded to surfaces",
		}),

		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termpanel_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// Handler serves the collector's registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
