package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNopMetrics(t *testing.T) {
	m := NewNop()
	require.IsType(t, &NopMetrics{}, m)

	require.NotPanics(t, func() {
		m.RecordElection(true)
		m.RecordWorkUnit(1.5, 10, true)
		m.RecordFollowerWait(0.2, "released")
		m.RecordAttachedSources(3)
		m.RecordEncodedUpdate(12, 48)
		m.RecordReceivedUpdate(false)
		m.RecordPendingUpdates(-1)
		m.RecordAccumulatorReset()
		m.RecordMessageSent("routed", 128, true)
		m.RecordMessageReceived("broadcast", 0)
		m.RecordHandshake(false, 0)
		m.RecordHeartbeat("", false)
	})
}
