package types

import "context"

// Batch is one minibatch of training data.
//
// Features and Labels hold one row per example. The coordinator never looks
// inside a batch; it only moves batches from attached sources to the model.
type Batch struct {
	Features [][]float32
	Labels   [][]float32
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return len(b.Features)
}

// Iterator is a forward-only feed of batches.
//
// Next returns io.EOF once the feed is exhausted. Implementations are not
// required to be safe for concurrent use.
type Iterator interface {
	Next(ctx context.Context) (Batch, error)
}

// IteratorFunc adapts a plain function to the Iterator interface.
type IteratorFunc func(ctx context.Context) (Batch, error)

// Next calls f(ctx).
func (f IteratorFunc) Next(ctx context.Context) (Batch, error) {
	return f(ctx)
}

// IterationListener is notified after every training iteration of a model.
type IterationListener interface {
	IterationDone(ctx context.Context, iteration int64)
}

// Model is the capability interface every trainable model variant implements.
//
// The coordinator does not distinguish between model kinds; anything that can
// fit over an iterator and accept a gradient accumulator qualifies.
type Model interface {
	// Fit trains the model over it until it returns io.EOF.
	Fit(ctx context.Context, it Iterator) error

	// SetAccumulator binds the gradient accumulator the model publishes its
	// updates through and pulls remote updates from.
	SetAccumulator(acc GradientAccumulator)

	// AddListener registers an iteration listener.
	AddListener(l IterationListener)
}

// Replicator is implemented by models that can produce replicas, which the
// multi-replica trainer requires.
//
// Every replica holds its own copy of the parameters. The trainer binds each
// replica its own consumer of a MultiConsumerAccumulator, so every replica
// applies every local and remote update to its copy.
type Replicator interface {
	Replicate() (Model, error)
}

// WorkspaceConfigurer is implemented by models that honour a workspace mode.
type WorkspaceConfigurer interface {
	SetWorkspaceMode(mode WorkspaceMode)
}

// WorkspaceMode selects how a trainer manages scratch memory.
type WorkspaceMode string

const (
	// WorkspaceNone allocates scratch memory per iteration.
	WorkspaceNone WorkspaceMode = "none"
	// WorkspaceEnabled reuses scratch memory across iterations.
	WorkspaceEnabled WorkspaceMode = "enabled"
)

// Valid reports whether m is a known workspace mode.
func (m WorkspaceMode) Valid() bool {
	return m == WorkspaceNone || m == WorkspaceEnabled
}

// TrainerConfig carries the construction parameters of a local multi-replica trainer.
type TrainerConfig struct {
	// Model is the prototype model; replicas are derived from it.
	Model Model
	// Workers is the number of replicas trained in parallel.
	Workers int
	// WorkspaceMode is passed to replicas implementing WorkspaceConfigurer.
	WorkspaceMode WorkspaceMode
	// Accumulator is bound to every replica.
	Accumulator GradientAccumulator
	// PrefetchSize is the number of batches buffered ahead of the replicas.
	PrefetchSize int
}

// Trainer drives several model replicas over one iterator.
type Trainer interface {
	// Fit consumes it until io.EOF, spreading batches over the replicas.
	Fit(ctx context.Context, it Iterator) error

	// Shutdown releases the replicas. It is safe to call more than once.
	Shutdown()
}

// TrainerFactory builds a Trainer from its construction parameters.
type TrainerFactory func(cfg TrainerConfig) (Trainer, error)
