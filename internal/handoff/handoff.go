// Package handoff provides the per-task gate a follower blocks on until the
// leader has finished the work unit its data was fed into.
package handoff

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/sharedtrain/types"
)

// Handoff is a one-shot, re-armable gate.
//
// The zero value is not usable; create gates with New. A released gate stays
// released, and every Wait returns immediately, until Rearm is called.
type Handoff struct {
	mu       sync.Mutex
	ch       chan struct{}
	released bool
	err      error
}

// New creates an unreleased gate.
func New() *Handoff {
	return &Handoff{ch: make(chan struct{})}
}

// Release opens the gate and wakes every waiter.
//
// Release is idempotent: only the first call after New or Rearm has an effect,
// and its err is what waiters observe.
//
// Parameters:
//   - err: Outcome delivered to waiters (nil for a normal completion)
//
// Returns:
//   - bool: true if this call opened the gate
func (h *Handoff) Release(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return false
	}
	h.released = true
	h.err = err
	close(h.ch)

	return true
}

// Released reports whether the gate is open.
func (h *Handoff) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.released
}

// Done returns a channel closed when the gate opens.
//
// The channel belongs to the current arming; after Rearm a new channel is returned.
func (h *Handoff) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.ch
}

// Err returns the error the gate was released with.
func (h *Handoff) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

// Wait blocks until the gate opens or ctx is done.
//
// Returns:
//   - error: the release error, or types.ErrInterruptedWait wrapping ctx.Err()
func (h *Handoff) Wait(ctx context.Context) error {
	select {
	case <-h.Done():
		return h.Err()
	case <-ctx.Done():
		// Release may have raced with cancellation.
		if h.Released() {
			return h.Err()
		}

		return fmt.Errorf("%w: %w", types.ErrInterruptedWait, ctx.Err())
	}
}

// Rearm closes the gate again so the next Wait blocks.
//
// Rearming an unreleased gate is a no-op; waiters already blocked on it keep
// waiting for the same release.
func (h *Handoff) Rearm() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.released {
		return
	}
	h.ch = make(chan struct{})
	h.released = false
	h.err = nil
}
