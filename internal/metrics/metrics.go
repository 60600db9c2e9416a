// Package metrics holds the Prometheus registries of the room server and
// the headless client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds room server metrics.
type Server struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	MembersActive       prometheus.Gauge
	SignalMessagesTotal *prometheus.CounterVec

	DataFramesRelayed *prometheus.CounterVec
	DataFramesDropped *prometheus.CounterVec

	SpeakingTransitions prometheus.Counter
}

func NewServer(namespace string) *Server {
	if namespace == "" {
		namespace = "mimic"
	}
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
	membersActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "members_active",
		Help:      "Members currently connected to a room",
	})
	signalMessages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_messages_total",
			Help:      "Signalling messages received, by type",
		},
		[]string{"type"},
	)
	relayed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_frames_relayed_total",
			Help:      "Data channel frames delivered to a member",
		},
		[]string{"channel"},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_frames_dropped_total",
			Help:      "Data channel frames dropped instead of queued",
		},
		[]string{"channel", "reason"},
	)
	speaking := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "speaking_transitions_total",
		Help:      "Speaking indicator changes broadcast to rooms",
	})

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		membersActive,
		signalMessages,
		relayed,
		dropped,
		speaking,
	)

	return &Server{
		registry:            registry,
		RequestsTotal:       requestsTotal,
		RequestDuration:     requestDuration,
		MembersActive:       membersActive,
		SignalMessagesTotal: signalMessages,
		DataFramesRelayed:   relayed,
		DataFramesDropped:   dropped,
		SpeakingTransitions: speaking,
	}
}

func (m *Server) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Server) RecordRequest(method, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Server) RecordRelayed(channel string, n int) {
	if n > 0 {
		m.DataFramesRelayed.WithLabelValues(channel).Add(float64(n))
	}
}

func (m *Server) RecordDropped(channel, reason string) {
	m.DataFramesDropped.WithLabelValues(channel, reason).Inc()
}

func (m *Server) RecordSpeaking() {
	m.SpeakingTransitions.Inc()
}

func (m *Server) RecordSignal(msgType string) {
	m.SignalMessagesTotal.WithLabelValues(msgType).Inc()
}
