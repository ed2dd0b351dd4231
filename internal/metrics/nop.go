package metrics

import "github.com/arloliu/sharedtrain/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Used when no collector is configured and as the
// fallback embedded in PrometheusCollector.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	coord, _ := sharedtrain.NewCoordinator(nc, sharedtrain.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// CoordinatorMetrics implementation

// RecordElection discards the election metric.
func (n *NopMetrics) RecordElection(_ /* won */ bool) {}

// RecordWorkUnit discards the work unit metric.
func (n *NopMetrics) RecordWorkUnit(_ /* duration */ float64, _ /* batches */ int64, _ /* success */ bool) {}

// RecordFollowerWait discards the follower wait metric.
func (n *NopMetrics) RecordFollowerWait(_ /* duration */ float64, _ /* outcome */ string) {}

// RecordAttachedSources discards the attached sources gauge.
func (n *NopMetrics) RecordAttachedSources(_ /* count */ int) {}

// AccumulatorMetrics implementation

// RecordEncodedUpdate discards the encoded update metric.
func (n *NopMetrics) RecordEncodedUpdate(_ /* components */ int, _ /* bytes */ int) {}

// RecordReceivedUpdate discards the received update metric.
func (n *NopMetrics) RecordReceivedUpdate(_ /* accepted */ bool) {}

// RecordPendingUpdates discards the pending updates gauge.
func (n *NopMetrics) RecordPendingUpdates(_ /* count */ int) {}

// RecordAccumulatorReset discards the reset counter.
func (n *NopMetrics) RecordAccumulatorReset() {}

// ExchangeMetrics implementation

// RecordMessageSent discards the sent message metric.
func (n *NopMetrics) RecordMessageSent(_ /* transport */ string, _ /* bytes */ int, _ /* success */ bool) {}

// RecordMessageReceived discards the received message metric.
func (n *NopMetrics) RecordMessageReceived(_ /* transport */ string, _ /* bytes */ int) {}

// RecordHandshake discards the handshake metric.
func (n *NopMetrics) RecordHandshake(_ /* success */ bool, _ /* duration */ float64) {}

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* nodeID */ string, _ /* success */ bool) {}
