package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ConnectionStatus is 1 for the current control plane connection status
	// as seen by the pull channel and 0 for the others.
	ConnectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onesibox_connection_status",
			Help: "Control plane connection status of the pull channel (1 = current).",
		},
		[]string{"status"}, // connected/reconnecting/offline
	)

	// PushStatus is 1 for the current push channel status.
	PushStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onesibox_push_channel_status",
			Help: "Push channel status (1 = current).",
		},
		[]string{"status"}, // connected/disconnected/reconnecting
	)

	CommandProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesibox_command_processed_total",
			Help: "Total number of commands processed by the dispatcher.",
		},
		[]string{"type", "status"}, // status: success/failed/duplicate
	)

	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onesibox_command_handler_seconds",
			Help:    "Latency of command handlers.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	PollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesibox_poll_total",
			Help: "Poll attempts by outcome.",
		},
		[]string{"result"}, // success/failure/unauthorized/rate_limited
	)

	HeartbeatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesibox_heartbeat_total",
			Help: "Heartbeat attempts by outcome.",
		},
		[]string{"result"},
	)

	AckQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "onesibox_ack_queue_depth",
			Help: "Acknowledgments waiting for redelivery.",
		},
	)

	AckDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesibox_ack_dropped_total",
			Help: "Acknowledgments given up on.",
		},
		[]string{"reason"}, // evicted/exhausted
	)

	ActuatorRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesibox_actuator_restarts_total",
			Help: "Actuator re-initializations by cause.",
		},
		[]string{"cause"}, // crash/not_ready/forced
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionStatus,
		PushStatus,
		CommandProcessedTotal,
		CommandLatency,
		PollTotal,
		HeartbeatTotal,
		AckQueueDepth,
		AckDroppedTotal,
		ActuatorRestartsTotal,
	)
}

// SetCurrent sets the gauge of current to 1 and every other value in all to 0.
func SetCurrent(vec *prometheus.GaugeVec, current string, all ...string) {
	for _, v := range all {
		if v == current {
			vec.WithLabelValues(v).Set(1)
		} else {
			vec.WithLabelValues(v).Set(0)
		}
	}
}
