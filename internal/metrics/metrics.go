// Package metrics holds the prometheus collectors of the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts dispatched commands by name and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concord_commands_total",
		Help: "Commands dispatched through the service invoker.",
	}, []string{"command", "result"})

	// SyncNotifications counts patch pushes delivered to subscribers.
	SyncNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concord_sync_notifications_total",
		Help: "Synchronized object patches pushed to client connections.",
	})

	// ConnectedParticipants tracks live websocket connections.
	ConnectedParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concord_connected_participants",
		Help: "Currently connected participants.",
	})
)
