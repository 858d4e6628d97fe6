package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fraudwatch_sync"

// Metrics holds every collector used by the synchronization core.
type Metrics struct {
	ConnectionState   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	SendsDropped      prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	LiveEvents        prometheus.Counter
	BufferLength      prometheus.Gauge

	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	StaleResults  *prometheus.CounterVec

	ArchiveInserts prometheus.Counter
	ArchiveErrors  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := new(Metrics)

	m.ConnectionState = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Current push connection state (0 idle, 1 connecting, 2 open, 3 reconnecting, 4 closing, 5 closed, 6 failed)",
	})

	m.ReconnectAttempts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "The number of automatic reconnect attempts scheduled",
	})

	m.HeartbeatsSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeats_sent_total",
		Help:      "The number of keep-alive messages sent",
	})

	m.SendsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_dropped_total",
		Help:      "Outbound messages dropped because the connection was not open",
	})

	m.MessagesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Inbound messages decoded, by type",
	}, []string{"type"})

	m.DecodeErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Inbound payloads that failed to decode",
	})

	m.LiveEvents = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_events_total",
		Help:      "Live events pushed into the event buffer",
	})

	m.BufferLength = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_event_buffer_length",
		Help:      "Events currently held in the live event buffer",
	})

	m.Fetches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Completed fetches by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	m.FetchDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Fetch round-trip latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	m.StaleResults = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_stale_results_total",
		Help:      "Fetch results discarded because a newer fetch superseded them",
	}, []string{"endpoint"})

	m.ArchiveInserts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_inserts_total",
		Help:      "Live events written to the archive",
	})

	m.ArchiveErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_errors_total",
		Help:      "Failed archive batch inserts",
	})

	return m
}
