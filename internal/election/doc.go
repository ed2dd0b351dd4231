// Package election provides the in-process election flag that picks one
// leader per work unit.
//
// # Terms
//
// A term starts when a caller wins TryAcquire and ends when the same caller
// calls Release. Each term owns a channel that is closed when it ends, exposed
// through Vacated, so callers that lost the election can notice that the term
// ended without their work being consumed and compete again.
//
// # Usage
//
//	flag := election.NewLocal()
//	if flag.TryAcquire(taskID) {
//	    defer flag.Release(taskID)
//	    // drive the work unit
//	} else {
//	    select {
//	    case <-myGate.Done():
//	    case <-flag.Vacated():
//	        // retry
//	    }
//	}
//
// # Concurrency Safety
//
// Local is safe for concurrent use. Acquisition is a single compare-and-swap,
// so no two callers can hold the flag at the same time.
package election
