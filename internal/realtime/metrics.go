package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsConnections gauges currently open gateway connections.
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of open websocket connections.",
	})

	// wsConversations gauges conversations with at least one subscriber.
	wsConversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_conversations_active",
		Help: "Current number of conversations with live subscribers.",
	})

	// wsDeliveries counts per-subscriber delivery attempts by result
	// ("delivered" or "failed").
	wsDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_broadcast_deliveries_total",
		Help: "Per-subscriber broadcast delivery attempts by result.",
	}, []string{"result"})

	// wsFrames counts inbound frames by outcome ("relayed" or "rejected").
	wsFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_frames_received_total",
		Help: "Inbound websocket frames by outcome.",
	}, []string{"outcome"})

	// relayMessages counts cross-process relay traffic by direction
	// ("out", "in", "error").
	relayMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_relay_messages_total",
		Help: "Cross-process relay messages by direction.",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(wsConnections, wsConversations, wsDeliveries, wsFrames, relayMessages)
}
