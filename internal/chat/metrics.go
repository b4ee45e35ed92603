// internal/chat/metrics.go

package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of live websocket connections",
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Client events processed by the dispatcher",
		},
		[]string{"type"},
	)

	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted to the store",
		},
		[]string{"kind"},
	)

	broadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_broadcast_fanout_size",
			Help:    "Connections reached per room broadcast",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	storageWriteSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chat_storage_write_seconds",
			Help: "Latency of durable writes on the dispatch path",
		},
		[]string{"op"},
	)

	droppedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_dropped_events_total",
			Help: "Events dropped because a client send buffer was full",
		},
	)
)

func recordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

func recordMessageSent(hasAttachment bool) {
	kind := "text"
	if hasAttachment {
		kind = "attachment"
	}
	messagesSentTotal.WithLabelValues(kind).Inc()
}

func recordFanout(size int) {
	broadcastFanout.Observe(float64(size))
}

func observeStorageWrite(op string, d time.Duration) {
	storageWriteSeconds.WithLabelValues(op).Observe(d.Seconds())
}
