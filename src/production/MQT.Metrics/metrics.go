package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Broker metrics
	BrokerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqt_broker_session_state",
			Help: "Current broker session state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 stopped)",
		},
	)

	ReconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqt_broker_reconnect_attempts_total",
			Help: "Reconnect attempts after an unexpected disconnect, by result",
		},
		[]string{"result"},
	)

	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mqt_messages_received_total",
			Help: "Messages delivered by the broker session",
		},
	)

	MessagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mqt_messages_dropped_total",
			Help: "Messages discarded because the session was stopping",
		},
	)

	// Ingestion metrics
	MessagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqt_messages_processed_total",
			Help: "Messages handled by the ingestor, by outcome",
		},
		[]string{"outcome"},
	)

	InsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mqt_store_insert_duration_seconds",
			Help:    "Time spent acquiring a session and inserting one reading",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Producer metrics
	MessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqt_messages_published_total",
			Help: "Messages published by the producer, by result",
		},
		[]string{"result"},
	)
)

// Ingestion outcomes
const (
	OutcomeStored      = "stored"
	OutcomeSentinel    = "sentinel"
	OutcomeWriteFailed = "write_failed"
	OutcomeError       = "error"
)

func init() {
	prometheus.MustRegister(BrokerState)
	prometheus.MustRegister(ReconnectAttempts)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesDropped)
	prometheus.MustRegister(MessagesProcessed)
	prometheus.MustRegister(InsertDuration)
	prometheus.MustRegister(MessagesPublished)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
