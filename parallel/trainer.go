package parallel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/types"
)

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the trainer logger.
func WithLogger(logger types.Logger) Option {
	return func(t *Trainer) {
		t.logger = logging.OrNop(logger)
	}
}

// Trainer fits several replicas of one model over a shared iterator.
type Trainer struct {
	cfg    types.TrainerConfig
	logger types.Logger

	mu        sync.Mutex
	replicas  []types.Model
	shutdown  bool
	discarded atomic.Int64
}

var _ types.Trainer = (*Trainer)(nil)

// New builds the replicas described by cfg.
//
// Parameters:
//   - cfg: Prototype model, replica count, workspace mode, accumulator, prefetch depth
//   - opts: Optional logger
//
// Returns:
//   - *Trainer: Trainer ready to Fit
//   - error: ErrNoModel, ErrInvalidConfig, ErrNotReplicable, or a replication error
func New(cfg types.TrainerConfig, opts ...Option) (*Trainer, error) {
	if cfg.Model == nil {
		return nil, types.ErrNoModel
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be >= 1, got %d", types.ErrInvalidConfig, cfg.Workers)
	}
	if cfg.PrefetchSize < 1 {
		cfg.PrefetchSize = 1
	}

	replicator, ok := cfg.Model.(types.Replicator)
	if !ok {
		return nil, fmt.Errorf("%w: %T", types.ErrNotReplicable, cfg.Model)
	}

	t := &Trainer{cfg: cfg, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(t)
	}

	accs := make([]types.GradientAccumulator, cfg.Workers)
	if mc, ok := cfg.Accumulator.(types.MultiConsumerAccumulator); ok {
		copy(accs, mc.Consumers(cfg.Workers))
	} else {
		for i := range accs {
			accs[i] = cfg.Accumulator
		}
	}

	t.replicas = make([]types.Model, 0, cfg.Workers)
	for i := range cfg.Workers {
		replica, err := replicator.Replicate()
		if err != nil {
			return nil, fmt.Errorf("replica %d: %w", i, err)
		}
		if accs[i] != nil {
			replica.SetAccumulator(accs[i])
		}
		if wc, ok := replica.(types.WorkspaceConfigurer); ok && cfg.WorkspaceMode != "" {
			wc.SetWorkspaceMode(cfg.WorkspaceMode)
		}
		t.replicas = append(t.replicas, replica)
	}

	t.logger.Info("parallel trainer built",
		"workers", cfg.Workers,
		"prefetch", cfg.PrefetchSize,
		"workspace_mode", cfg.WorkspaceMode,
	)

	return t, nil
}

// Fit trains every replica over it until it is exhausted.
//
// The first replica or iterator error cancels the others and is returned.
//
// Returns:
//   - error: ErrClosed after Shutdown, or the first failure
func (t *Trainer) Fit(ctx context.Context, it types.Iterator) error {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return types.ErrClosed
	}
	replicas := append([]types.Model(nil), t.replicas...)
	t.mu.Unlock()
	t.discarded.Store(0)

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan types.Batch, t.cfg.PrefetchSize)
	replicasDone := make(chan struct{})

	g.Go(func() error {
		defer close(batches)

		return prefetch(gctx, it, batches, replicasDone, &t.discarded)
	})

	var wg sync.WaitGroup
	for i, replica := range replicas {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()

			if err := replica.Fit(gctx, &chanIterator{ch: batches}); err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}

			return nil
		})
	}
	go func() {
		wg.Wait()
		close(replicasDone)
	}()

	err := g.Wait()
	// Batches still buffered were pulled but reached no replica.
	for range batches {
		t.discarded.Add(1)
	}

	return err
}

// prefetch copies batches from it into out until it is exhausted, ctx ends,
// or every replica has stopped consuming. A batch pulled after the last
// replica stopped is counted in discarded.
func prefetch(ctx context.Context, it types.Iterator, out chan<- types.Batch, replicasDone <-chan struct{}, discarded *atomic.Int64) error {
	for {
		select {
		case <-replicasDone:
			return nil
		default:
		}

		batch, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("prefetch: %w", err)
		}

		select {
		case out <- batch:
		case <-replicasDone:
			discarded.Add(1)
			return nil
		case <-ctx.Done():
			discarded.Add(1)
			return ctx.Err()
		}
	}
}

// Discarded returns the number of batches the last Fit pulled from its
// iterator without any replica training them.
func (t *Trainer) Discarded() int64 {
	return t.discarded.Load()
}

// AddListener registers l on every replica.
func (t *Trainer) AddListener(l types.IterationListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.replicas {
		r.AddListener(l)
	}
}

// Workers returns the number of replicas.
func (t *Trainer) Workers() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.replicas)
}

// Shutdown drops the replicas. Later Fit calls return ErrClosed.
func (t *Trainer) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutdown {
		return
	}
	t.shutdown = true
	t.replicas = nil
	t.logger.Debug("parallel trainer shut down")
}

// chanIterator adapts the prefetch channel to types.Iterator.
type chanIterator struct {
	ch <-chan types.Batch
}

func (c *chanIterator) Next(ctx context.Context) (types.Batch, error) {
	select {
	case b, ok := <-c.ch:
		if !ok {
			return types.Batch{}, io.EOF
		}

		return b, nil
	case <-ctx.Done():
		return types.Batch{}, ctx.Err()
	}
}

// NewFactory returns a types.TrainerFactory building Trainers with logger.
func NewFactory(logger types.Logger) types.TrainerFactory {
	return func(cfg types.TrainerConfig) (types.Trainer, error) {
		return New(cfg, WithLogger(logger))
	}
}
