// Package metrics exposes agent health and the latest host readings as
// Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pulse"
	subsystem = "hoststat"
)

// Metrics groups every collector the agent exports.
type Metrics struct {
	MetricValue     *prometheus.GaugeVec
	TicksTotal      prometheus.Counter
	TickDuration    prometheus.Histogram
	SensorFailures  *prometheus.CounterVec
	PersistTotal    prometheus.Counter
	PersistFailures prometheus.Counter
	GPUState        prometheus.Gauge
	WSClients       prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MetricValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "metric_value",
				Help:      "Latest sampled value of each windowed host metric.",
			},
			[]string{"metric"},
		),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total number of sampling ticks completed.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Time spent reading sensors and applying one tick.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		SensorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sensor_failures_total",
				Help:      "Total number of failed sensor reads by sensor.",
			},
			[]string{"sensor"},
		),
		PersistTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_total",
			Help:      "Total number of snapshots written.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_failures_total",
			Help:      "Total number of snapshot writes that failed.",
		}),
		GPUState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gpu_state",
			Help:      "GPU availability flag: 0 probing, 1 available, 2 disabled.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websocket_clients",
			Help:      "Number of connected websocket subscribers.",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled by the API.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration observed at the API layer.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.MetricValue,
			m.TicksTotal,
			m.TickDuration,
			m.SensorFailures,
			m.PersistTotal,
			m.PersistFailures,
			m.GPUState,
			m.WSClients,
			m.HTTPRequests,
			m.HTTPDuration,
		)
	}
	return m
}

// RecordTick records one completed tick and the latest value of each metric.
func (m *Metrics) RecordTick(elapsed time.Duration, latest map[string]float64) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickDuration.Observe(elapsed.Seconds())
	for name, v := range latest {
		m.MetricValue.WithLabelValues(name).Set(v)
	}
}

func (m *Metrics) RecordSensorFailure(sensor string) {
	if m == nil {
		return
	}
	if sensor == "" {
		sensor = "unknown"
	}
	m.SensorFailures.WithLabelValues(sensor).Inc()
}

func (m *Metrics) RecordPersist(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistFailures.Inc()
		return
	}
	m.PersistTotal.Inc()
}

func (m *Metrics) SetGPUState(state int) {
	if m == nil {
		return
	}
	m.GPUState.Set(float64(state))
}

func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// RecordHTTPRequest records one request against its registered route.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
