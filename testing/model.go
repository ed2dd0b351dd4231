package testing

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/arloliu/sharedtrain/types"
)

// BatchHook is called by a RecordingModel for every batch it trains on.
// A non-nil error aborts Fit with that error.
type BatchHook func(ctx context.Context, batch types.Batch) error

// ModelOption configures a RecordingModel.
type ModelOption func(*RecordingModel)

// WithBatchHook installs a hook run before each batch is recorded. Tests use
// it to block the leader mid-unit or to inject training failures.
func WithBatchHook(hook BatchHook) ModelOption {
	return func(m *RecordingModel) {
		m.hook = hook
	}
}

// WithGradientSize makes every batch push a gradient of n components into
// the bound accumulator. Zero disables gradient publishing.
func WithGradientSize(n int) ModelOption {
	return func(m *RecordingModel) {
		m.gradientSize = n
	}
}

// RecordingModel is a types.Model fake that records what it trains on.
//
// Replicas created through Replicate share the recording state of their
// parent, so a multi-replica run is observed as one model.
type RecordingModel struct {
	hook         BatchHook
	gradientSize int

	shared *recording

	mu        sync.Mutex
	acc       types.GradientAccumulator
	listeners []types.IterationListener
	mode      types.WorkspaceMode
}

type recording struct {
	mu         sync.Mutex
	batches    []types.Batch
	fitCalls   int
	replicas   int
	iterations atomic.Int64
}

var (
	_ types.Model               = (*RecordingModel)(nil)
	_ types.Replicator          = (*RecordingModel)(nil)
	_ types.WorkspaceConfigurer = (*RecordingModel)(nil)
)

// NewRecordingModel creates an empty RecordingModel.
func NewRecordingModel(opts ...ModelOption) *RecordingModel {
	m := &RecordingModel{shared: &recording{}}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Fit consumes it until io.EOF, recording every batch.
func (m *RecordingModel) Fit(ctx context.Context, it types.Iterator) error {
	m.shared.mu.Lock()
	m.shared.fitCalls++
	m.shared.mu.Unlock()

	for {
		batch, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if m.hook != nil {
			if err := m.hook(ctx, batch); err != nil {
				return err
			}
		}

		m.shared.mu.Lock()
		m.shared.batches = append(m.shared.batches, batch)
		m.shared.mu.Unlock()

		m.mu.Lock()
		acc := m.acc
		listeners := append([]types.IterationListener(nil), m.listeners...)
		m.mu.Unlock()

		if acc != nil && m.gradientSize > 0 {
			gradient := make([]float32, m.gradientSize)
			for i := range gradient {
				gradient[i] = float32(batch.Size()) * 0.5
			}
			if err := acc.StoreUpdate(ctx, gradient); err != nil {
				return err
			}
		}

		iteration := m.shared.iterations.Add(1)
		for _, l := range listeners {
			l.IterationDone(ctx, iteration)
		}
	}
}

// SetAccumulator binds acc to this model instance.
func (m *RecordingModel) SetAccumulator(acc types.GradientAccumulator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acc = acc
}

// AddListener registers l on this model instance.
func (m *RecordingModel) AddListener(l types.IterationListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, l)
}

// Replicate returns a replica sharing this model's recording.
func (m *RecordingModel) Replicate() (types.Model, error) {
	m.shared.mu.Lock()
	m.shared.replicas++
	m.shared.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	return &RecordingModel{
		hook:         m.hook,
		gradientSize: m.gradientSize,
		shared:       m.shared,
		listeners:    append([]types.IterationListener(nil), m.listeners...),
	}, nil
}

// SetWorkspaceMode records the workspace mode.
func (m *RecordingModel) SetWorkspaceMode(mode types.WorkspaceMode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mode = mode
}

// Batches returns a copy of every batch recorded so far.
func (m *RecordingModel) Batches() []types.Batch {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()

	return append([]types.Batch(nil), m.shared.batches...)
}

// BatchCount returns the number of batches recorded so far.
func (m *RecordingModel) BatchCount() int {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()

	return len(m.shared.batches)
}

// FitCalls returns how many times Fit ran across the model and its replicas.
func (m *RecordingModel) FitCalls() int {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()

	return m.shared.fitCalls
}

// Replicas returns how many replicas were created.
func (m *RecordingModel) Replicas() int {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()

	return m.shared.replicas
}

// Iterations returns the number of completed iterations.
func (m *RecordingModel) Iterations() int64 {
	return m.shared.iterations.Load()
}

// Accumulator returns the accumulator bound to this instance.
func (m *RecordingModel) Accumulator() types.GradientAccumulator {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.acc
}

// WorkspaceMode returns the last mode set on this instance.
func (m *RecordingModel) WorkspaceMode() types.WorkspaceMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mode
}

// MakeBatches builds n single-example batches tagged with tag, so tests can
// tell which source a batch came from.
func MakeBatches(n int, tag float32) []types.Batch {
	batches := make([]types.Batch, n)
	for i := range batches {
		batches[i] = types.Batch{
			Features: [][]float32{{tag, float32(i)}},
			Labels:   [][]float32{{tag}},
		}
	}

	return batches
}
