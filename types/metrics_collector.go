package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and safe for concurrent use; methods
// are called from the leader, from followers and from NATS callbacks.
//
// The interface composes smaller, domain-focused interfaces.
type MetricsCollector interface {
	CoordinatorMetrics
	AccumulatorMetrics
	ExchangeMetrics
}

// CoordinatorMetrics defines metrics for the election and work-unit lifecycle.
type CoordinatorMetrics interface {
	// RecordElection records one election attempt.
	RecordElection(won bool)

	// RecordWorkUnit records a finished work unit.
	//
	// Parameters:
	//   - duration: Time the leader spent on the unit, in seconds
	//   - batches: Batches pulled through the multiplexer
	//   - success: false when the unit was aborted
	RecordWorkUnit(duration float64, batches int64, success bool)

	// RecordFollowerWait records how long a follower was blocked.
	//
	// Parameters:
	//   - duration: Wait time in seconds
	//   - outcome: "released", "aborted" or "interrupted"
	RecordFollowerWait(duration float64, outcome string)

	// RecordAttachedSources sets the number of sources in the current unit (gauge).
	RecordAttachedSources(count int)
}

// AccumulatorMetrics defines metrics for gradient encoding.
type AccumulatorMetrics interface {
	// RecordEncodedUpdate records one encoded local update.
	//
	// Parameters:
	//   - components: Number of components above the threshold
	//   - bytes: Encoded payload size
	RecordEncodedUpdate(components int, bytes int)

	// RecordReceivedUpdate records an inbound update.
	RecordReceivedUpdate(accepted bool)

	// RecordPendingUpdates sets the number of queued updates (gauge).
	RecordPendingUpdates(count int)

	// RecordAccumulatorReset records a reset between work units.
	RecordAccumulatorReset()
}

// ExchangeMetrics defines metrics for the parameter-exchange client.
type ExchangeMetrics interface {
	// RecordMessageSent records an outbound update.
	RecordMessageSent(transport string, bytes int, success bool)

	// RecordMessageReceived records an inbound update payload.
	RecordMessageReceived(transport string, bytes int)

	// RecordHandshake records the introduction outcome and its latency in seconds.
	RecordHandshake(success bool, duration float64)

	// RecordHeartbeat records a node heartbeat publication.
	RecordHeartbeat(nodeID string, success bool)
}
