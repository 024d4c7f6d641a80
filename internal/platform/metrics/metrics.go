package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 推送結果標籤
const (
	ResultDelivered = "delivered"
	ResultDropped   = "dropped"
)

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_online_users",
		Help: "Users holding at least one live connection",
	})

	LiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_live_connections",
		Help: "Live websocket connections",
	})

	Pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_push_total",
		Help: "Events pushed to live connections",
	}, []string{"event", "result"})

	ConnectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_connections_rejected_total",
		Help: "Connection attempts rejected for missing or unverifiable identity",
	})

	MessageActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_messages_total",
		Help: "Committed message lifecycle actions",
	}, []string{"action"})

	registerOnce sync.Once
)

// Register 向預設 registry 註冊所有指標，可重複呼叫
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(OnlineUsers, LiveConnections, Pushes, ConnectionsRejected, MessageActions)
	})
}
