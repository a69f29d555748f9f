package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently registered sessions",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total messages dispatched by kind",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to dispatch each message kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	DeferredRemovalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_deferred_removals_total",
		Help: "Sessions unregistered by the deferred-removal drain",
	})

	SendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_send_failures_total",
		Help: "Outbound writes that failed",
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(DeferredRemovalsTotal)
	prometheus.MustRegister(SendFailuresTotal)
}
