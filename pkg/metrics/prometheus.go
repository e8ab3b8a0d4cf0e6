package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service.
// All Record/Set methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database / Redis Metrics
	dbQueryDuration  *prometheus.HistogramVec
	dbQueryErrors    *prometheus.CounterVec
	redisHealthy     prometheus.Gauge
	redisDegradedOps *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections    prometheus.Gauge
	websocketRejected       *prometheus.CounterVec
	websocketEventsTotal    *prometheus.CounterVec
	websocketDispatchFailed *prometheus.CounterVec

	// Presence Metrics
	presenceBroadcasts *prometheus.CounterVec

	// Call Metrics
	callsInitiated    *prometheus.CounterVec
	callTransitions   *prometheus.CounterVec
	callsLive         prometheus.Gauge
	ringTimersArmed   prometheus.Gauge
	ringTimeoutsTotal prometheus.Counter
	callDuration      *prometheus.HistogramVec

	// Relay Metrics
	signalsRelayed *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec
}

// NewMetrics creates all metrics on a dedicated registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		httpRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: labels,
		}),

		dbQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "db_query_duration_seconds",
			Help:        "Database query latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		dbQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "db_query_errors_total",
			Help:        "Total number of database query errors",
			ConstLabels: labels,
		}, []string{"operation"}),
		redisHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "redis_healthy",
			Help:        "1 when Redis is reachable, 0 while running degraded",
			ConstLabels: labels,
		}),
		redisDegradedOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "redis_degraded_operations_total",
			Help:        "Redis operations skipped because Redis was unavailable",
			ConstLabels: labels,
		}, []string{"operation"}),

		websocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "websocket_connections",
			Help:        "Number of active signaling connections",
			ConstLabels: labels,
		}),
		websocketRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "websocket_connections_rejected_total",
			Help:        "Signaling connections refused at upgrade or authentication",
			ConstLabels: labels,
		}, []string{"reason"}),
		websocketEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "websocket_events_total",
			Help:        "Inbound signaling events by name and outcome",
			ConstLabels: labels,
		}, []string{"event", "result"}),
		websocketDispatchFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "websocket_dispatch_failures_total",
			Help:        "Outbound events that could not be enqueued to a connection",
			ConstLabels: labels,
		}, []string{"event"}),

		presenceBroadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_broadcasts_total",
			Help:        "Presence edge broadcasts",
			ConstLabels: labels,
		}, []string{"status"}),

		callsInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "calls_initiated_total",
			Help:        "Calls created by type",
			ConstLabels: labels,
		}, []string{"type"}),
		callTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "call_transitions_total",
			Help:        "Call status transitions",
			ConstLabels: labels,
		}, []string{"from", "to"}),
		callsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "calls_live",
			Help:        "Calls currently ringing or ongoing in this process",
			ConstLabels: labels,
		}),
		ringTimersArmed: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ring_timers_armed",
			Help:        "Ring timeout timers currently armed",
			ConstLabels: labels,
		}),
		ringTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ring_timeouts_total",
			Help:        "Ring timeouts that fired",
			ConstLabels: labels,
		}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "call_duration_seconds",
			Help:        "Duration of calls from acceptance to end",
			ConstLabels: labels,
			Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"type"}),

		signalsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "signals_relayed_total",
			Help:        "Relayed offer/answer/ice-candidate messages",
			ConstLabels: labels,
		}, []string{"kind", "result"}),

		pushNotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "push_notifications_total",
			Help:        "Push notifications sent",
			ConstLabels: labels,
		}, []string{"type"}),
		pushNotificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "push_notifications_failed_total",
			Help:        "Push notifications that failed",
			ConstLabels: labels,
		}, []string{"type"}),
	}
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// RecordDBQuery records a storage round trip
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.dbQueryErrors.WithLabelValues(operation).Inc()
	}
}

// SetRedisHealthy flips the Redis health gauge
func (m *Metrics) SetRedisHealthy(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.redisHealthy.Set(1)
	} else {
		m.redisHealthy.Set(0)
	}
}

// RecordRedisDegraded counts an operation skipped in degraded mode
func (m *Metrics) RecordRedisDegraded(operation string) {
	if m == nil {
		return
	}
	m.redisDegradedOps.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the active connection gauge
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketRejected counts a refused connection
func (m *Metrics) RecordWebSocketRejected(reason string) {
	if m == nil {
		return
	}
	m.websocketRejected.WithLabelValues(reason).Inc()
}

// RecordInboundEvent counts an inbound event by outcome (ok, error, rate_limited)
func (m *Metrics) RecordInboundEvent(event, result string) {
	if m == nil {
		return
	}
	m.websocketEventsTotal.WithLabelValues(event, result).Inc()
}

// RecordDispatchFailure counts an outbound event that was not delivered
func (m *Metrics) RecordDispatchFailure(event string) {
	if m == nil {
		return
	}
	m.websocketDispatchFailed.WithLabelValues(event).Inc()
}

// RecordPresenceBroadcast counts a presence edge broadcast
func (m *Metrics) RecordPresenceBroadcast(status string) {
	if m == nil {
		return
	}
	m.presenceBroadcasts.WithLabelValues(status).Inc()
}

// RecordCallInitiated counts a new call
func (m *Metrics) RecordCallInitiated(callType string) {
	if m == nil {
		return
	}
	m.callsInitiated.WithLabelValues(callType).Inc()
}

// RecordCallTransition counts a status change
func (m *Metrics) RecordCallTransition(from, to string) {
	if m == nil {
		return
	}
	m.callTransitions.WithLabelValues(from, to).Inc()
}

// SetLiveCalls sets the number of non-terminal calls held in memory
func (m *Metrics) SetLiveCalls(count int) {
	if m == nil {
		return
	}
	m.callsLive.Set(float64(count))
}

// SetRingTimersArmed sets the armed ring timer gauge
func (m *Metrics) SetRingTimersArmed(count int) {
	if m == nil {
		return
	}
	m.ringTimersArmed.Set(float64(count))
}

// RecordRingTimeout counts a fired ring timeout
func (m *Metrics) RecordRingTimeout() {
	if m == nil {
		return
	}
	m.ringTimeoutsTotal.Inc()
}

// RecordCallDuration records the talk time of a finished call
func (m *Metrics) RecordCallDuration(callType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordSignalRelayed counts a relayed signaling message (delivered, no_peer, rejected)
func (m *Metrics) RecordSignalRelayed(kind, result string) {
	if m == nil {
		return
	}
	m.signalsRelayed.WithLabelValues(kind, result).Inc()
}

// RecordPushNotification records a sent push notification
func (m *Metrics) RecordPushNotification(notifType string) {
	if m == nil {
		return
	}
	m.pushNotificationsTotal.WithLabelValues(notifType).Inc()
}

// RecordPushNotificationFailure records a failed push notification
func (m *Metrics) RecordPushNotificationFailure(notifType string) {
	if m == nil {
		return
	}
	m.pushNotificationsFailed.WithLabelValues(notifType).Inc()
}
