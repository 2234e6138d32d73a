// Package metrics holds the prometheus collectors shared by the chat client
// and the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatspot"

// Metrics is a set of collectors bound to its own registry. The zero value is
// not usable; a nil *Metrics is, and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Dispatched    *prometheus.CounterVec
	Sends         *prometheus.CounterVec
	StoreFailures *prometheus.CounterVec
	Connects      *prometheus.CounterVec
	Connected     prometheus.Gauge
	Relayed       *prometheus.CounterVec
	RelayPeers    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_events_total",
			Help:      "Inbound message events handled, by message type.",
		}, []string{"type"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outbound message events, by message type and result.",
		}, []string{"type", "result"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Local store writes that failed and were dropped, by operation.",
		}, []string{"op"}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, by result.",
		}, []string{"result"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a real-time connection is live.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages routed by the relay, by result.",
		}, []string{"result"}),
		RelayPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "peers",
			Help:      "Websocket connections registered with the relay.",
		}),
	}
	m.registry.MustRegister(
		m.Dispatched, m.Sends, m.StoreFailures, m.Connects, m.Connected,
		m.Relayed, m.RelayPeers,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDispatch(msgType string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(msgType).Inc()
}

func (m *Metrics) ObserveSend(msgType string, err error) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(msgType, result(err)).Inc()
}

func (m *Metrics) ObserveStoreFailure(op string) {
	if m == nil {
		return
	}
	m.StoreFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveConnect(err error) {
	if m == nil {
		return
	}
	m.Connects.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.Connected.Set(1)
	}
}

func (m *Metrics) ObserveDisconnect() {
	if m == nil {
		return
	}
	m.Connected.Set(0)
}

// ObserveRelay records a relay routing decision ("delivered" or "dropped").
func (m *Metrics) ObserveRelay(outcome string) {
	if m == nil {
		return
	}
	m.Relayed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetRelayPeers(n int) {
	if m == nil {
		return
	}
	m.RelayPeers.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
