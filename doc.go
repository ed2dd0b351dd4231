// Package sharedtrain coordinates data-parallel training across the goroutines
// of one process that share a single model, and synchronizes gradient updates
// with other processes through a NATS-based parameter exchange.
//
// Every participating goroutine (a "task") attaches its own data source. One
// task per work unit wins the election and becomes the leader: it trains the
// shared model over a feed that interleaves every attached source, while the
// other tasks block until the leader has consumed their data. Nobody returns
// before its data was trained.
//
// # Quick Start
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	coord, err := sharedtrain.NewCoordinator(nc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer coord.Close(context.Background())
//
//	cfg := sharedtrain.DefaultConfig()
//	for i := range 3 {
//	    go func() {
//	        ctx, err := coord.Attach(ctx, source.NewSlice(partition(i)))
//	        if err != nil {
//	            return
//	        }
//	        res, err := coord.Run(ctx, &sharedtrain.Worker{Config: &cfg, Model: model})
//	        // res.Completed is true on the task that drove the unit
//	    }()
//	}
//
// # Work Units
//
// A work unit is the set of sources merged by one leader. A task that attaches
// while the current leader is still pulling data joins the running unit; a
// task that attaches after every source of the unit was exhausted joins the
// next one and competes for its leadership. Teardown of a unit happens in a
// fixed order: the trainer is shut down when EpochReset is set, a fresh unit
// is swapped in, the gradient accumulator is reset, every task of the old unit
// is released, and only then is the election flag given up.
//
// # First-Time Initialization
//
// The first leader of the process builds the shared components from its
// Worker configuration: it resolves the transport, builds the gradient
// accumulator, joins the parameter exchange (claiming a stable node ID and
// introducing the node once), resolves the parallelism and builds the
// multi-replica trainer, or binds the accumulator straight to the model when
// the parallelism is 1.
//
// # Failure Handling
//
// A leader failure aborts the whole unit: every waiting task is released with
// ErrWorkUnitAborted wrapping the cause and the next unit starts clean. A task
// whose wait is interrupted returns ErrInterruptedWait; its source stays in
// the unit and is still trained.
//
// # Components
//
//   - accumulator: threshold gradient encoding and the update queue
//   - exchange: NATS transports, the exchange client and coordination-point shards
//   - parallel: the reference multi-replica trainer
//   - source: in-memory batch sources and node address sources
//   - testing: embedded NATS and a recording model for tests
package sharedtrain
