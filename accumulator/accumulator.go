package accumulator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/internal/metrics"
	"github.com/arloliu/sharedtrain/types"
)

// Config holds the accumulator construction parameters.
type Config struct {
	// Threshold is the encoding step; components below it stay in the residual.
	Threshold float32
	// BufferSize is the largest encoded payload accepted, in bytes.
	BufferSize types.ByteSize
	// BufferCount is the number of updates that may wait for application.
	BufferCount int
	// MemoryLimit caps BufferSize x BufferCount.
	MemoryLimit types.ByteSize
}

// Budget returns BufferSize x BufferCount.
func (c Config) Budget() types.ByteSize {
	return c.BufferSize * types.ByteSize(c.BufferCount) //nolint:gosec // BufferCount is validated positive
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(a *Accumulator) {
		a.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.AccumulatorMetrics) Option {
	return func(a *Accumulator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// Accumulator collects local gradients, encodes them under the threshold
// policy, forwards the encoded messages to a MessageHandler and queues local
// and remote updates until the model applies them.
//
// Every queued update is delivered once to each consumer. By default the
// accumulator has one consumer, served by ApplyUpdate; Consumers splits it
// into several views so replicas holding separate parameters all see every
// update. An update leaves the queue once every consumer has applied it.
//
// Accumulator is safe for concurrent use; the handler is called without
// holding the internal lock.
type Accumulator struct {
	cfg     Config
	handler types.MessageHandler
	logger  types.Logger
	metrics types.AccumulatorMetrics

	mu       sync.Mutex
	residual []float32
	sequence uint64
	pending  []*types.EncodedGradientMessage
	base     uint64   // queue position of pending[0]
	cursors  []uint64 // next queue position per consumer
}

// Compile-time assertions.
var (
	_ types.GradientAccumulator      = (*Accumulator)(nil)
	_ types.MultiConsumerAccumulator = (*Accumulator)(nil)
	_ types.UpdateHandler            = (*Accumulator)(nil)
	_ types.GradientAccumulator      = (*Consumer)(nil)
)

// New creates an accumulator.
//
// Parameters:
//   - cfg: Threshold and memory budget
//   - handler: Receiver of encoded local updates (usually the exchange client)
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Accumulator: Ready accumulator
//   - error: types.ErrInvalidConfig for a bad threshold or buffer shape,
//     types.ErrResourceExhausted when the budget exceeds MemoryLimit
//
// Example:
//
//	acc, err := accumulator.New(accumulator.Config{
//	    Threshold:   1e-3,
//	    BufferSize:  200 * types.MiB,
//	    BufferCount: 10,
//	    MemoryLimit: 2 * types.GiB,
//	}, types.MessageHandlerFunc(client.SendToAllCoordinationPoints))
func New(cfg Config, handler types.MessageHandler, opts ...Option) (*Accumulator, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be > 0, got %v", types.ErrInvalidConfig, cfg.Threshold)
	}
	if cfg.BufferSize == 0 || cfg.BufferCount <= 0 {
		return nil, fmt.Errorf("%w: buffer size and count must be > 0, got %s x %d",
			types.ErrInvalidConfig, cfg.BufferSize, cfg.BufferCount)
	}
	if budget := cfg.Budget(); budget/types.ByteSize(cfg.BufferCount) != cfg.BufferSize || budget > cfg.MemoryLimit { //nolint:gosec // positive
		return nil, fmt.Errorf("%w: %s x %d exceeds limit %s",
			types.ErrResourceExhausted, cfg.BufferSize, cfg.BufferCount, cfg.MemoryLimit)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: message handler is required", types.ErrInvalidConfig)
	}

	a := &Accumulator{
		cfg:     cfg,
		handler: handler,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		cursors: make([]uint64, 1),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.logger.Debug("accumulator created",
		"threshold", cfg.Threshold,
		"budget", humanize.IBytes(uint64(cfg.Budget())),
		"limit", humanize.IBytes(uint64(cfg.MemoryLimit)),
	)

	return a, nil
}

// StoreUpdate adds gradient to the residual and transmits everything that
// crossed the threshold.
//
// The encoded update is queued locally as well, so the next ApplyUpdate on
// this node applies the same step the other nodes receive.
//
// Returns:
//   - error: types.ErrShapeMismatch for a gradient of a different length,
//     types.ErrResourceExhausted when the payload or the queue would exceed
//     the budget, or the handler's error
func (a *Accumulator) StoreUpdate(ctx context.Context, gradient []float32) error {
	a.mu.Lock()

	if a.residual == nil {
		a.residual = make([]float32, len(gradient))
	}
	if len(gradient) != len(a.residual) {
		a.mu.Unlock()
		return fmt.Errorf("%w: got %d components, accumulator holds %d", types.ErrShapeMismatch, len(gradient), len(a.residual))
	}

	for i, g := range gradient {
		a.residual[i] += g
	}

	significant := CountSignificant(a.residual, a.cfg.Threshold)
	if significant == 0 {
		a.mu.Unlock()
		return nil
	}
	if size := types.ByteSize(significant * bytesPerComponent); size > a.cfg.BufferSize { //nolint:gosec // positive
		a.mu.Unlock()
		return fmt.Errorf("%w: encoded update of %s exceeds buffer size %s", types.ErrResourceExhausted, size, a.cfg.BufferSize)
	}
	if len(a.pending) >= a.cfg.BufferCount {
		a.mu.Unlock()
		return fmt.Errorf("%w: %d updates pending", types.ErrResourceExhausted, len(a.pending))
	}

	a.sequence++
	msg := Encode(a.residual, a.cfg.Threshold, a.sequence)
	a.pending = append(a.pending, msg)
	pending := len(a.pending)
	a.mu.Unlock()

	a.metrics.RecordEncodedUpdate(significant, len(msg.Payload))
	a.metrics.RecordPendingUpdates(pending)

	// the handler owns its own copy so local application is unaffected by
	// whatever the transport does with the message
	out := *msg
	if err := a.handler.HandleMessage(ctx, &out); err != nil {
		return fmt.Errorf("forward encoded update %d: %w", msg.Sequence, err)
	}

	return nil
}

// ReceiveUpdate queues an update that arrived from another node.
//
// Returns:
//   - error: types.ErrChecksumMismatch for a corrupted message,
//     types.ErrResourceExhausted when the queue is full
func (a *Accumulator) ReceiveUpdate(_ context.Context, msg *types.EncodedGradientMessage) error {
	if err := msg.Verify(); err != nil {
		a.metrics.RecordReceivedUpdate(false)
		return err
	}
	if types.ByteSize(len(msg.Payload)) > a.cfg.BufferSize { //nolint:gosec // positive
		a.metrics.RecordReceivedUpdate(false)
		return fmt.Errorf("%w: inbound update of %d bytes from %s", types.ErrResourceExhausted, len(msg.Payload), msg.NodeID)
	}

	a.mu.Lock()
	if len(a.pending) >= a.cfg.BufferCount {
		a.mu.Unlock()
		a.metrics.RecordReceivedUpdate(false)

		return fmt.Errorf("%w: %d updates pending, dropping %s#%d", types.ErrResourceExhausted, a.cfg.BufferCount, msg.NodeID, msg.Sequence)
	}
	a.pending = append(a.pending, msg)
	pending := len(a.pending)
	a.mu.Unlock()

	a.metrics.RecordReceivedUpdate(true)
	a.metrics.RecordPendingUpdates(pending)

	return nil
}

// ApplyUpdate adds every update the first consumer has not applied yet to
// target.
//
// Returns:
//   - int: Number of updates applied
//   - error: types.ErrShapeMismatch when an update does not fit target; the
//     updates applied before it stay applied
func (a *Accumulator) ApplyUpdate(target []float32) (int, error) {
	return a.applyFor(0, target)
}

func (a *Accumulator) applyFor(consumer int, target []float32) (int, error) {
	a.mu.Lock()
	if consumer >= len(a.cursors) {
		a.mu.Unlock()
		return 0, nil
	}
	start := a.cursors[consumer] - a.base
	updates := append([]*types.EncodedGradientMessage(nil), a.pending[start:]...)
	a.cursors[consumer] = a.base + uint64(len(a.pending))
	a.trimLocked()
	pending := len(a.pending)
	a.mu.Unlock()

	a.metrics.RecordPendingUpdates(pending)

	for i, msg := range updates {
		if err := Decode(msg, target); err != nil {
			return i, fmt.Errorf("apply update %s#%d: %w", msg.NodeID, msg.Sequence, err)
		}
	}

	return len(updates), nil
}

// trimLocked drops the updates every consumer has applied.
func (a *Accumulator) trimLocked() {
	low := slices.Min(a.cursors)
	drop := int(low - a.base) //nolint:gosec // bounded by len(a.pending)
	if drop == 0 {
		return
	}
	clear(a.pending[:drop])
	a.pending = a.pending[drop:]
	a.base = low
	if len(a.pending) == 0 {
		a.pending = nil
	}
}

func (a *Accumulator) hasAnythingFor(consumer int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return consumer < len(a.cursors) && a.cursors[consumer] < a.base+uint64(len(a.pending))
}

// Consumers replaces the consumer set with n views of the accumulator.
//
// Each view stores updates into the shared residual and applies every queued
// update exactly once. Every view starts at the head of the queue; a view
// from an earlier call whose index is n or above stops receiving updates.
// ApplyUpdate on the accumulator itself serves the first view.
//
// Parameters:
//   - n: Number of consumers, values below 1 mean 1
//
// Returns:
//   - []types.GradientAccumulator: One *Consumer per index
//
// Example:
//
//	views := acc.Consumers(len(replicas))
//	for i, r := range replicas {
//	    r.SetAccumulator(views[i])
//	}
func (a *Accumulator) Consumers(n int) []types.GradientAccumulator {
	n = max(n, 1)

	a.mu.Lock()
	a.cursors = make([]uint64, n)
	for i := range a.cursors {
		a.cursors[i] = a.base
	}
	a.mu.Unlock()

	views := make([]types.GradientAccumulator, n)
	for i := range views {
		views[i] = &Consumer{acc: a, index: i}
	}

	return views
}

// HasAnything reports whether some consumer has updates left to apply.
func (a *Accumulator) HasAnything() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending) > 0
}

// Reset drops the residual, the queue and the sequence counter. Consumers
// stay registered and start again from an empty queue.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.residual = nil
	a.pending = nil
	a.base = 0
	clear(a.cursors)
	a.sequence = 0
	a.mu.Unlock()

	a.metrics.RecordAccumulatorReset()
	a.metrics.RecordPendingUpdates(0)
}

// Residual returns a copy of the current residual.
func (a *Accumulator) Residual() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]float32(nil), a.residual...)
}

// Config returns the construction parameters.
func (a *Accumulator) Config() Config {
	return a.cfg
}

// Consumer is one consumer's view of an Accumulator.
type Consumer struct {
	acc   *Accumulator
	index int
}

// StoreUpdate stores gradient into the shared accumulator.
func (c *Consumer) StoreUpdate(ctx context.Context, gradient []float32) error {
	return c.acc.StoreUpdate(ctx, gradient)
}

// ApplyUpdate adds every update this consumer has not applied yet to target.
func (c *Consumer) ApplyUpdate(target []float32) (int, error) {
	return c.acc.applyFor(c.index, target)
}

// HasAnything reports whether this consumer has updates left to apply.
func (c *Consumer) HasAnything() bool {
	return c.acc.hasAnythingFor(c.index)
}

// Reset resets the shared accumulator.
func (c *Consumer) Reset() {
	c.acc.Reset()
}

// Index returns the consumer's position in the set.
func (c *Consumer) Index() int {
	return c.index
}
