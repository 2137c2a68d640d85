package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quibish_signaling_connected_clients",
		Help: "Number of registered websocket clients",
	})
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quibish_signaling_active_calls",
		Help: "Number of calls currently in offering or connected state",
	})
)

// Counters
var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quibish_signaling_calls_total",
		Help: "Total call attempts by outcome",
	}, []string{"outcome"})
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quibish_signaling_messages_total",
		Help: "Total inbound signaling messages by type",
	}, []string{"type"})
	ProtocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quibish_signaling_protocol_errors_total",
		Help: "Total malformed or unaddressable signaling messages",
	})
	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quibish_signaling_evictions_total",
		Help: "Total connections replaced by a newer registration for the same user",
	})
	LivenessDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quibish_signaling_liveness_disconnects_total",
		Help: "Total connections dropped by the liveness sweep",
	})
)
