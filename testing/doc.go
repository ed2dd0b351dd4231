// Package testing provides test utilities for the sharedtrain library.
//
// It follows the convention of net/http/httptest: helpers that other
// packages' tests import to stand up real dependencies cheaply.
//
// Key utilities:
//   - StartEmbeddedNATS: In-process NATS server with JetStream
//   - Connect: Extra client connection per simulated process
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - NewTestLogger: Logger writing through t.Logf
//   - RecordingModel: Model fake that records the batches it is fit on
//   - MakeBatches: Tagged batches for feeding sources
//
// Example usage:
//
//	import (
//	    "testing"
//	    sttest "github.com/arloliu/sharedtrain/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := sttest.StartEmbeddedNATS(t)
//	    model := sttest.NewRecordingModel()
//	    // ...
//	}
package testing
