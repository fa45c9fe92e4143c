// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus collectors for the reactor core. Each Metrics value owns a
// private registry, so tests can construct as many as they need without
// duplicate-registration panics.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the collectors the reactor, queue and workers update.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	QueueDepth        prometheus.Gauge
	ActiveWorkers     prometheus.Gauge

	AcceptedTotal    prometheus.Counter
	UpgradesTotal    prometheus.Counter
	DisconnectsTotal prometheus.Counter
	FramesIn         prometheus.Counter
	FramesOut        prometheus.Counter
	BytesIn          prometheus.Counter
	BytesOut         prometheus.Counter
	ActionsDiscarded prometheus.Counter
	ProtocolErrors   prometheus.Counter
}

// NewMetrics creates all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsreactor_connections_active",
			Help: "Connections currently registered with the reactor.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsreactor_send_queue_depth",
			Help: "Actions waiting in the send queue at the last drain.",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wsreactor_workers_active",
			Help: "Worker goroutines currently running.",
		}),
		AcceptedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_connections_accepted_total",
			Help: "TCP connections accepted.",
		}),
		UpgradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_upgrades_total",
			Help: "HTTP connections upgraded to WebSocket.",
		}),
		DisconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_disconnects_total",
			Help: "Connections retired, by any cause.",
		}),
		FramesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_frames_received_total",
			Help: "WebSocket frames decoded from peers.",
		}),
		FramesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_frames_sent_total",
			Help: "WebSocket frames queued to peers.",
		}),
		BytesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_bytes_received_total",
			Help: "Bytes read from sockets.",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_bytes_sent_total",
			Help: "Bytes written to sockets.",
		}),
		ActionsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_actions_discarded_total",
			Help: "Queued actions dropped because the connection was gone.",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsreactor_protocol_errors_total",
			Help: "Framing and opcode violations observed.",
		}),
	}
}

// Handler exposes the registry for the metrics listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
