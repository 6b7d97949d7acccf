package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Signaling Metrics
	signalingConnections prometheus.Gauge
	signalsRelayedTotal  *prometheus.CounterVec
	signalsDroppedTotal  *prometheus.CounterVec

	// Call Metrics
	callsTotal  *prometheus.CounterVec
	callsActive prometheus.Gauge

	// Push Notification Metrics
	pushNotificationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. It must be called
// at most once per process, from main.
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		signalingConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_connections_active",
				Help:        "Number of open signaling WebSocket connections",
				ConstLabels: labels,
			},
		),
		signalsRelayedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_messages_relayed_total",
				Help:        "Total number of signaling envelopes fanned out, by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		signalsDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_messages_dropped_total",
				Help:        "Total number of signaling envelopes dropped, by kind and reason",
				ConstLabels: labels,
			},
			[]string{"kind", "reason"},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls created, by kind",
				ConstLabels: labels,
			},
			[]string{"call_type"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of calls not yet ended",
				ConstLabels: labels,
			},
		),
		pushNotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notification sends, by provider and result",
				ConstLabels: labels,
			},
			[]string{"provider", "result"},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// HTTPRequestStarted marks a request in flight
func (m *Metrics) HTTPRequestStarted() {
	m.httpRequestsInFlight.Inc()
}

// HTTPRequestFinished marks a request done
func (m *Metrics) HTTPRequestFinished() {
	m.httpRequestsInFlight.Dec()
}

// ConnectionOpened records a new signaling connection
func (m *Metrics) ConnectionOpened() {
	m.signalingConnections.Inc()
}

// ConnectionClosed records a closed signaling connection
func (m *Metrics) ConnectionClosed() {
	m.signalingConnections.Dec()
}

// SignalRelayed counts one fanned-out envelope
func (m *Metrics) SignalRelayed(kind string) {
	m.signalsRelayedTotal.WithLabelValues(kind).Inc()
}

// SignalDropped counts one dropped envelope
func (m *Metrics) SignalDropped(kind, reason string) {
	m.signalsDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// CallStarted counts a created call
func (m *Metrics) CallStarted(callType string) {
	m.callsTotal.WithLabelValues(callType).Inc()
	m.callsActive.Inc()
}

// CallEnded marks a call no longer active
func (m *Metrics) CallEnded() {
	m.callsActive.Dec()
}

// PushSent counts a push notification attempt
func (m *Metrics) PushSent(provider string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.pushNotificationsTotal.WithLabelValues(provider, result).Inc()
}
