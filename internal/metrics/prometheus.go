package metrics

import (
	"sync"

	"github.com/arloliu/sharedtrain/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// PrometheusCollector never panics on duplicate registration by itself.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// coordinator
	elections       *prometheus.CounterVec
	workUnits       *prometheus.CounterVec
	workUnitSeconds prometheus.Histogram
	batches         prometheus.Counter
	followerWait    *prometheus.HistogramVec
	attachedSources prometheus.Gauge

	// accumulator
	encodedUpdates    prometheus.Counter
	encodedComponents prometheus.Histogram
	encodedBytes      prometheus.Counter
	receivedUpdates   *prometheus.CounterVec
	pendingUpdates    prometheus.Gauge
	resets            prometheus.Counter

	// exchange
	messagesSent     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	handshakes       *prometheus.CounterVec
	handshakeSeconds prometheus.Histogram
	heartbeats       *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Metrics namespace (defaults to "sharedtrain" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "sharedtrain"
	}

	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.elections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "elections_total",
			Help:      "Election attempts by outcome (won, lost).",
		}, []string{"outcome"})
		p.workUnits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "work_units_total",
			Help:      "Work units driven by a leader by result (success, aborted).",
		}, []string{"result"})
		p.workUnitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "work_unit_duration_seconds",
			Help:      "Time the leader spent driving a work unit.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms .. ~7min
		})
		p.batches = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "batches_total",
			Help:      "Batches pulled through the multiplexed iterator.",
		})
		p.followerWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "follower_wait_seconds",
			Help:      "Time followers spent blocked by outcome (released, aborted, interrupted).",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"outcome"})
		p.attachedSources = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "attached_sources",
			Help:      "Data sources attached to the current work unit.",
		})

		p.encodedUpdates = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "accumulator",
			Name:      "encoded_updates_total",
			Help:      "Local gradient updates encoded and handed to the exchange.",
		})
		p.encodedComponents = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "accumulator",
			Name:      "encoded_components",
			Help:      "Components above the threshold per encoded update.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		})
		p.encodedBytes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "accumulator",
			Name:      "encoded_bytes_total",
			Help:      "Encoded payload bytes produced.",
		})
		p.receivedUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "accumulator",
			Name:      "received_updates_total",
			Help:      "Inbound updates by result (accepted, rejected).",
		}, []string{"result"})
		p.pendingUpdates = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "accumulator",
			Name:      "pending_updates",
			Help:      "Updates queued for application.",
		})
		p.resets = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "accumulator",
			Name:      "resets_total",
			Help:      "Accumulator resets between work units.",
		})

		p.messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "messages_sent_total",
			Help:      "Outbound update messages by transport and result.",
		}, []string{"transport", "result"})
		p.bytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "bytes_sent_total",
			Help:      "Outbound update bytes by transport.",
		}, []string{"transport"})
		p.messagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "messages_received_total",
			Help:      "Inbound update messages by transport.",
		}, []string{"transport"})
		p.bytesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "bytes_received_total",
			Help:      "Inbound update bytes by transport.",
		}, []string{"transport"})
		p.handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "handshakes_total",
			Help:      "Introduction handshakes by result (success, failure).",
		}, []string{"result"})
		p.handshakeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "handshake_duration_seconds",
			Help:      "Latency of the introduction handshake.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		})
		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "heartbeats_total",
			Help:      "Node heartbeat publications by result (success, failure).",
		}, []string{"result"})

		p.reg.MustRegister(
			p.elections, p.workUnits, p.workUnitSeconds, p.batches, p.followerWait, p.attachedSources,
			p.encodedUpdates, p.encodedComponents, p.encodedBytes, p.receivedUpdates, p.pendingUpdates, p.resets,
			p.messagesSent, p.bytesSent, p.messagesReceived, p.bytesReceived, p.handshakes, p.handshakeSeconds, p.heartbeats,
		)
	})
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}

	return no
}

// CoordinatorMetrics implementation

// RecordElection increments the election counter.
func (p *PrometheusCollector) RecordElection(won bool) {
	p.ensureRegistered()
	p.elections.WithLabelValues(resultLabel(won, "won", "lost")).Inc()
}

// RecordWorkUnit records a finished work unit.
func (p *PrometheusCollector) RecordWorkUnit(duration float64, batches int64, success bool) {
	p.ensureRegistered()
	p.workUnits.WithLabelValues(resultLabel(success, "success", "aborted")).Inc()
	p.workUnitSeconds.Observe(duration)
	if batches > 0 {
		p.batches.Add(float64(batches))
	}
}

// RecordFollowerWait observes a follower wait.
func (p *PrometheusCollector) RecordFollowerWait(duration float64, outcome string) {
	p.ensureRegistered()
	p.followerWait.WithLabelValues(outcome).Observe(duration)
}

// RecordAttachedSources sets the attached sources gauge.
func (p *PrometheusCollector) RecordAttachedSources(count int) {
	p.ensureRegistered()
	p.attachedSources.Set(float64(count))
}

// AccumulatorMetrics implementation

// RecordEncodedUpdate records an encoded local update.
func (p *PrometheusCollector) RecordEncodedUpdate(components int, bytes int) {
	p.ensureRegistered()
	p.encodedUpdates.Inc()
	p.encodedComponents.Observe(float64(components))
	p.encodedBytes.Add(float64(bytes))
}

// RecordReceivedUpdate records an inbound update.
func (p *PrometheusCollector) RecordReceivedUpdate(accepted bool) {
	p.ensureRegistered()
	p.receivedUpdates.WithLabelValues(resultLabel(accepted, "accepted", "rejected")).Inc()
}

// RecordPendingUpdates sets the pending updates gauge.
func (p *PrometheusCollector) RecordPendingUpdates(count int) {
	p.ensureRegistered()
	p.pendingUpdates.Set(float64(count))
}

// RecordAccumulatorReset increments the reset counter.
func (p *PrometheusCollector) RecordAccumulatorReset() {
	p.ensureRegistered()
	p.resets.Inc()
}

// ExchangeMetrics implementation

// RecordMessageSent records an outbound update.
func (p *PrometheusCollector) RecordMessageSent(transport string, bytes int, success bool) {
	p.ensureRegistered()
	p.messagesSent.WithLabelValues(transport, resultLabel(success, "success", "failure")).Inc()
	if success {
		p.bytesSent.WithLabelValues(transport).Add(float64(bytes))
	}
}

// RecordMessageReceived records an inbound update payload.
func (p *PrometheusCollector) RecordMessageReceived(transport string, bytes int) {
	p.ensureRegistered()
	p.messagesReceived.WithLabelValues(transport).Inc()
	p.bytesReceived.WithLabelValues(transport).Add(float64(bytes))
}

// RecordHandshake records the introduction outcome.
func (p *PrometheusCollector) RecordHandshake(success bool, duration float64) {
	p.ensureRegistered()
	p.handshakes.WithLabelValues(resultLabel(success, "success", "failure")).Inc()
	p.handshakeSeconds.Observe(duration)
}

// RecordHeartbeat records a heartbeat publication. The node ID is not used as a
// label to keep cardinality bounded.
func (p *PrometheusCollector) RecordHeartbeat(_ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(resultLabel(success, "success", "failure")).Inc()
}
