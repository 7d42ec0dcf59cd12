package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// ChatMessagesSent counts accepted chat messages.
	ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_chat_messages_sent_total",
		Help: "Total number of accepted chat messages",
	})

	// ChatDenials counts rejected chat actions by reason code.
	ChatDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_chat_denials_total",
		Help: "Total number of denied chat actions by reason",
	}, []string{"reason"})

	// ChatAdminActions counts admin moderation actions.
	ChatAdminActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_chat_admin_actions_total",
		Help: "Total number of admin moderation actions",
	}, []string{"action"})

	// BadgesAwarded counts engagement badges granted.
	BadgesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_chat_badges_awarded_total",
		Help: "Total number of engagement badges awarded",
	}, []string{"badge"})

	// ChatStatePersistErrors counts failed writes of per-user moderation state
	// outside the send transaction, e.g. clearing an expired mute on a denied send.
	ChatStatePersistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_chat_state_persist_errors_total",
		Help: "Total number of failed user chat state writes by operation",
	}, []string{"operation"})

	// BroadcastErrors counts failed fire-and-forget publications.
	BroadcastErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_broadcast_errors_total",
		Help: "Total number of failed event publications",
	}, []string{"scope"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plaza_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)
