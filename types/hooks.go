package types

import "context"

// Hooks defines callbacks for coordinator lifecycle events.
//
// All hooks are optional and run asynchronously in background goroutines so a
// slow hook never delays the release of followers. Errors returned by hooks are
// logged and otherwise ignored.
//
// Example:
//
//	hooks := &sharedtrain.Hooks{
//	    OnWorkUnitCompleted: func(ctx context.Context, res sharedtrain.Result) error {
//	        log.Printf("unit done: %d batches from %d sources", res.Batches, res.Sources)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnLeaderElected is called when taskID wins the election for a work unit.
	OnLeaderElected func(ctx context.Context, taskID string) error

	// OnWorkUnitCompleted is called by the leader after a successful unit.
	OnWorkUnitCompleted func(ctx context.Context, result Result) error

	// OnError is called when a work unit fails.
	OnError func(ctx context.Context, err error) error
}
