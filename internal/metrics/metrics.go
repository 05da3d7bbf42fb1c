package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

const namespace = "contactcore"

// Metrics holds all application metrics
type Metrics struct {
	// Agent transport
	websocketConnections prometheus.Counter
	websocketActive      prometheus.Gauge
	websocketMessages    prometheus.Counter
	websocketErrors      prometheus.Counter
	eventsReceived       *prometheus.CounterVec

	// Routing
	enqueued       *prometheus.CounterVec
	assigned       *prometheus.CounterVec
	abandoned      *prometheus.CounterVec
	overflowed     *prometheus.CounterVec
	unrouted       prometheus.Counter
	queueDepth     *prometheus.GaugeVec
	longestWait    *prometheus.GaugeVec
	serviceLevel   *prometheus.GaugeVec
	waitSeconds    *prometheus.HistogramVec
	routingTickDur prometheus.Observer

	// Agents
	agentsByState *prometheus.GaugeVec

	// Dialer
	dialsPlaced    *prometheus.CounterVec
	dialResults    *prometheus.CounterVec
	dialerRatio    *prometheus.GaugeVec
	dialerInFlight *prometheus.GaugeVec
	abandonRate    *prometheus.GaugeVec

	// Persistence
	storeRetries  *prometheus.CounterVec
	outboxPending prometheus.Gauge

	// Aggregation
	aggregationCycles prometheus.Counter
	aggregationDur    prometheus.Observer

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	counter := func(sub, name, help string) prometheus.Counter {
		return promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help})
	}
	counterVec := func(sub, name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, labels)
	}
	gaugeVec := func(sub, name, help string, labels ...string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, labels)
	}

	return &Metrics{
		websocketConnections: counter("websocket", "connections_total", "Agent WebSocket connections accepted"),
		websocketActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "active_connections", Help: "Currently connected agent sockets",
		}),
		websocketMessages: counter("websocket", "messages_total", "Agent WebSocket messages received"),
		websocketErrors:   counter("websocket", "errors_total", "Agent WebSocket read or parse errors"),
		eventsReceived:    counterVec("agent", "events_total", "Agent events processed, by type", "type"),

		enqueued:   counterVec("queue", "enqueued_total", "Interactions enqueued", "queue", "channel"),
		assigned:   counterVec("queue", "assigned_total", "Interactions assigned to agents", "queue", "strategy"),
		abandoned:  counterVec("queue", "abandoned_total", "Interactions abandoned while waiting", "queue"),
		overflowed: counterVec("queue", "overflow_total", "Interactions that left a queue through overflow", "queue", "action", "fallback"),
		unrouted:   counter("routing", "unrouted_total", "Interactions no routing rule matched"),
		queueDepth: gaugeVec("queue", "waiting", "Interactions waiting per queue", "queue"),
		longestWait: gaugeVec("queue", "longest_wait_seconds", "Longest current wait per queue", "queue"),
		serviceLevel: gaugeVec("queue", "service_level_percent", "Current service level per queue", "queue"),
		waitSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "queue", Name: "wait_seconds", Help: "Wait time until assignment",
			Buckets: []float64{5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"queue"}),
		routingTickDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "routing", Name: "tick_duration_seconds", Help: "Duration of a dispatch pass",
			Buckets: prometheus.DefBuckets,
		}),

		agentsByState: gaugeVec("agent", "by_state", "Agents per state", "state"),

		dialsPlaced:    counterVec("dialer", "dials_total", "Outbound dials placed", "campaign", "mode"),
		dialResults:    counterVec("dialer", "results_total", "Outbound dial results by disposition", "campaign", "disposition"),
		dialerRatio:    gaugeVec("dialer", "lines_per_agent", "Current predictive lines-per-agent ratio", "campaign"),
		dialerInFlight: gaugeVec("dialer", "in_flight_lines", "Dials currently in flight", "campaign"),
		abandonRate:    gaugeVec("dialer", "abandon_rate", "Abandon rate over the sliding window", "campaign"),

		storeRetries: counterVec("store", "retries_total", "Persistence operations retried", "op"),
		outboxPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "outbox_pending", Help: "Writes waiting to be flushed",
		}),

		aggregationCycles: counter("aggregator", "cycles_total", "Snapshot aggregation cycles"),
		aggregationDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "aggregator", Name: "cycle_duration_seconds", Help: "Duration of a snapshot cycle",
			Buckets: prometheus.DefBuckets,
		}),

		httpRequests: counterVec("http", "requests_total", "HTTP requests", "path", "status"),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds", Help: "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.websocketConnections.Inc()
	m.websocketActive.Inc()
}

// RecordWebSocketDisconnect decrements the active connection gauge
func (m *Metrics) RecordWebSocketDisconnect() {
	m.websocketActive.Dec()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.websocketMessages.Inc()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.websocketErrors.Inc()
}

// RecordAgentEvent counts a processed agent event
func (m *Metrics) RecordAgentEvent(kind string) {
	m.eventsReceived.WithLabelValues(kind).Inc()
}

// RecordEnqueue counts an interaction entering a queue
func (m *Metrics) RecordEnqueue(queue string, channel types.ChannelType, unrouted bool) {
	m.enqueued.WithLabelValues(queue, string(channel)).Inc()
	if unrouted {
		m.unrouted.Inc()
	}
}

// RecordAssign counts an assignment and its wait
func (m *Metrics) RecordAssign(queue string, strategy types.RoutingStrategy, wait time.Duration) {
	m.assigned.WithLabelValues(queue, string(strategy)).Inc()
	m.waitSeconds.WithLabelValues(queue).Observe(wait.Seconds())
}

// RecordAbandon counts an abandoned interaction
func (m *Metrics) RecordAbandon(queue string) {
	m.abandoned.WithLabelValues(queue).Inc()
}

// RecordOverflow counts an overflow
func (m *Metrics) RecordOverflow(queue string, action types.OverflowAction, fallback bool) {
	fb := "false"
	if fallback {
		fb = "true"
	}
	m.overflowed.WithLabelValues(queue, string(action), fb).Inc()
}

// ObserveRoutingTick records how long a dispatch pass took
func (m *Metrics) ObserveRoutingTick(d time.Duration) {
	m.routingTickDur.Observe(d.Seconds())
}

// UpdateQueueStats publishes per-queue gauges from a snapshot
func (m *Metrics) UpdateQueueStats(queues []types.QueueSnapshot) {
	for _, q := range queues {
		m.queueDepth.WithLabelValues(q.Queue).Set(float64(q.WaitingCount))
		m.longestWait.WithLabelValues(q.Queue).Set(q.LongestWaitSecs)
		m.serviceLevel.WithLabelValues(q.Queue).Set(q.ServiceLevel.CurrentSL)
	}
}

// UpdateAgentStats updates agent distribution metrics
func (m *Metrics) UpdateAgentStats(byState map[types.AgentState]int) {
	m.agentsByState.Reset()
	for state, n := range byState {
		m.agentsByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

// RecordDial counts a dial placed by a campaign
func (m *Metrics) RecordDial(campaign string, mode types.DialerType) {
	m.dialsPlaced.WithLabelValues(campaign, string(mode)).Inc()
}

// RecordDialResult counts a dial outcome
func (m *Metrics) RecordDialResult(campaign string, disposition types.CallStatus) {
	m.dialResults.WithLabelValues(campaign, string(disposition)).Inc()
}

// SetDialerPacing publishes the pacing state of a campaign
func (m *Metrics) SetDialerPacing(campaign string, ratio, abandonRate float64, inFlight int) {
	m.dialerRatio.WithLabelValues(campaign).Set(ratio)
	m.abandonRate.WithLabelValues(campaign).Set(abandonRate)
	m.dialerInFlight.WithLabelValues(campaign).Set(float64(inFlight))
}

// RecordStoreRetry counts a retried persistence operation
func (m *Metrics) RecordStoreRetry(op string) {
	m.storeRetries.WithLabelValues(op).Inc()
}

// SetOutboxPending publishes the number of queued writes
func (m *Metrics) SetOutboxPending(n int) {
	m.outboxPending.Set(float64(n))
}

// RecordAggregationCycle records an aggregation cycle
func (m *Metrics) RecordAggregationCycle(duration time.Duration) {
	m.aggregationCycles.Inc()
	m.aggregationDur.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(path string, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(path, status).Inc()
	m.httpDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
