package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

var connectionStates = []domain.ConnectionState{
	domain.StateDisconnected,
	domain.StateConnecting,
	domain.StateConnected,
	domain.StateError,
}

type Metrics struct {
	// Backend: латентность и исходы REST-вызовов
	BackendDuration *prometheus.HistogramVec
	BackendErrors   *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Monitor stream
	MessagesTotal   *prometheus.CounterVec
	ConnectionState *prometheus.GaugeVec
	Reconnects      prometheus.Counter

	// Stats manager
	SystemHealth       prometheus.Gauge
	ConnectionQuality  prometheus.Gauge
	FlaggedRate        prometheus.Gauge
	ResponsesPerMinute prometheus.Gauge
	AverageLatency     prometheus.Gauge
	ActiveAgents       prometheus.Gauge

	// Alerts
	AlertsUnacknowledged prometheus.Gauge
	AlertsCritical       prometheus.Gauge

	// Archive: заполненность буфера (backpressure)
	ArchiveBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		BackendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hm_backend_request_duration_seconds",
			Help:    "Latency of detection backend REST calls.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint", "status"}),

		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hm_backend_errors_total",
			Help: "Backend call failures by type.",
		}, []string{"type"}), // типы: rate_limit, breaker_open, throttled, status, transport

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hm_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"name"}),

		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hm_monitor_messages_total",
			Help: "Messages received on the monitor stream by type.",
		}, []string{"type"}),

		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hm_monitor_connection_state",
			Help: "1 for the current monitor connection state, 0 otherwise.",
		}, []string{"state"}),

		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "hm_monitor_reconnects_total",
			Help: "Scheduled reconnection attempts.",
		}),

		SystemHealth: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_system_health_score",
			Help: "Derived system health score (0-100).",
		}),
		ConnectionQuality: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_connection_quality_score",
			Help: "Derived connection quality score (0-100).",
		}),
		FlaggedRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_flagged_rate",
			Help: "Share of flagged responses in the retained history.",
		}),
		ResponsesPerMinute: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_responses_per_minute",
			Help: "Detection results received in the last 60 seconds.",
		}),
		AverageLatency: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_average_latency_ms",
			Help: "Mean backend processing time in milliseconds.",
		}),
		ActiveAgents: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_active_agents",
			Help: "Agents with at least one response inside the trend window.",
		}),

		AlertsUnacknowledged: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_alerts_unacknowledged",
			Help: "Persistent alerts waiting for acknowledgement.",
		}),
		AlertsCritical: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_alerts_critical_unacknowledged",
			Help: "Critical persistent alerts waiting for acknowledgement.",
		}),

		ArchiveBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "hm_archive_buffer_utilization",
			Help: "Current number of alert events in the archive buffer.",
		}),
	}
}

func (m *Metrics) MessageReceived(msgType string) {
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) StateChanged(state domain.ConnectionState) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) ReconnectScheduled(int, time.Duration) {
	m.Reconnects.Inc()
}

// ObserveStats — подписчик Stats Manager.
func (m *Metrics) ObserveStats(s domain.SystemMetrics) {
	m.SystemHealth.Set(s.SystemHealth)
	m.ConnectionQuality.Set(s.ConnectionQuality)
	m.FlaggedRate.Set(s.FlaggedRate)
	m.ResponsesPerMinute.Set(float64(s.ResponsesPerMinute))
	m.AverageLatency.Set(s.AverageLatency)
	m.ActiveAgents.Set(float64(s.ActiveAgents))
}

// ObserveAlerts обновляет gauges по агрегатам алертов.
func (m *Metrics) ObserveAlerts(s domain.AlertStats) {
	m.AlertsUnacknowledged.Set(float64(s.Unacknowledged))
	m.AlertsCritical.Set(float64(s.CriticalUnacknowledged))
}
