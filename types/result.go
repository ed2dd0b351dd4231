package types

import "time"

// Result describes how a call to Run ended.
//
// Followers receive the zero value. The leader of a successful work unit gets
// Completed set together with a few counters about the unit it drove.
type Result struct {
	// Completed is true only on the leader of a successfully drained unit.
	Completed bool
	// Leader is true when the caller drove the unit.
	Leader bool
	// Batches is the number of batches pulled through the multiplexer.
	Batches int64
	// Sources is the number of data sources the unit merged.
	Sources int
	// Parallelism is the number of replicas that trained the unit.
	Parallelism int
	// Elapsed is the time the leader spent driving the unit.
	Elapsed time.Duration
}

// IsEmpty reports whether r is the empty follower result.
func (r Result) IsEmpty() bool {
	return r == Result{}
}
