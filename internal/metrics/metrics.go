// Package metrics exposes Prometheus collectors for message routing and the MQTT session.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "powercal"

// Metrics holds every collector of the process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived  *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	RoutingDuration   prometheus.Histogram
	PayloadErrors     *prometheus.CounterVec
	DevicesDiscovered prometheus.Counter
	MQTTConnected     prometheus.Gauge
	DisplayClients    prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Inbound MQTT messages by topic category",
			},
			[]string{"category"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Outbound MQTT publishes by result",
			},
			[]string{"status"},
		),
		RoutingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "duration_seconds",
				Help:      "Time spent routing one inbound message",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
		),
		PayloadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "payload_errors_total",
				Help:      "Payloads that could not be interpreted, by reason",
			},
			[]string{"reason"},
		),
		DevicesDiscovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "devices",
				Name:      "discovered_total",
				Help:      "Devices seen for the first time this session",
			},
		),
		MQTTConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "connected",
				Help:      "MQTT connection status (0=disconnected, 1=connected)",
			},
		),
		DisplayClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "display",
				Name:      "clients",
				Help:      "Connected websocket display clients",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesReceived,
		m.MessagesPublished,
		m.RoutingDuration,
		m.PayloadErrors,
		m.DevicesDiscovered,
		m.MQTTConnected,
		m.DisplayClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) MessageReceived(category string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(category).Inc()
}

func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.MessagesPublished.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRouting(d time.Duration) {
	if m == nil {
		return
	}
	m.RoutingDuration.Observe(d.Seconds())
}

func (m *Metrics) PayloadError(reason string) {
	if m == nil {
		return
	}
	m.PayloadErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) DeviceDiscovered() {
	if m == nil {
		return
	}
	m.DevicesDiscovered.Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.MQTTConnected.Set(1)
	} else {
		m.MQTTConnected.Set(0)
	}
}

func (m *Metrics) DisplayClientAdded() {
	if m == nil {
		return
	}
	m.DisplayClients.Inc()
}

func (m *Metrics) DisplayClientRemoved() {
	if m == nil {
		return
	}
	m.DisplayClients.Dec()
}
