// Package parallel provides the local multi-replica trainer.
//
// A Trainer builds Workers replicas of a prototype model, binds each to the
// shared gradient accumulator, and fits them concurrently over one iterator.
// A prefetch goroutine reads ahead up to PrefetchSize batches into a channel
// the replicas consume from, so every batch is trained exactly once.
//
// Example:
//
//	trainer, err := parallel.New(types.TrainerConfig{
//	    Model:        model,
//	    Workers:      4,
//	    Accumulator:  acc,
//	    PrefetchSize: 2,
//	})
//	if err != nil {
//	    return err
//	}
//	defer trainer.Shutdown()
//	err = trainer.Fit(ctx, iterator)
package parallel
