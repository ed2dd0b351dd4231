// Package multiplex merges several independently advancing sources into one
// forward-only feed consumed by a single trainer.
package multiplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrSealed is returned by Add once every source has been drained. The
	// caller must attach to the next work unit instead.
	ErrSealed = errors.New("multiplexer sealed")

	// ErrDraining is returned by Reset while the feed is only partially drained.
	ErrDraining = errors.New("multiplexer is being drained")
)

// Source is a forward-only sequence that returns io.EOF when exhausted.
type Source[T any] interface {
	Next(ctx context.Context) (T, error)
}

// Stats is a snapshot of multiplexer counters.
type Stats struct {
	// Sources is the number of sources added since the last reset.
	Sources int
	// Active is the number of sources not yet exhausted.
	Active int
	// Produced is the number of elements returned by Next.
	Produced int64
	// Sealed reports whether the feed has ended.
	Sealed bool
}

type entry[T any] struct {
	src         Source[T]
	onExhausted func()
	exhausted   bool
}

// Multiplexer interleaves elements from its sources round-robin.
//
// Sources may be added concurrently with draining until the multiplexer seals,
// which happens atomically when Next finds every source exhausted. Next itself
// is meant for a single consumer.
type Multiplexer[T any] struct {
	mu       sync.Mutex
	entries  []*entry[T]
	cursor   int
	active   int
	started  bool
	sealed   bool
	produced int64
}

// New creates an empty multiplexer.
func New[T any]() *Multiplexer[T] {
	return &Multiplexer[T]{}
}

// Add registers a source.
//
// onExhausted, when non-nil, is called exactly once, from the consumer's
// goroutine, right after the source returns io.EOF.
//
// Returns:
//   - error: ErrSealed when the feed has already ended
func (m *Multiplexer[T]) Add(src Source[T], onExhausted func()) error {
	if src == nil {
		return errors.New("multiplex: nil source")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return ErrSealed
	}
	m.entries = append(m.entries, &entry[T]{src: src, onExhausted: onExhausted})
	m.active++

	return nil
}

// Next returns the next element from the union of all sources.
//
// Returns:
//   - T: the element
//   - error: io.EOF once every source is exhausted (the multiplexer is then
//     sealed), or the first non-EOF error of a source
func (m *Multiplexer[T]) Next(ctx context.Context) (T, error) {
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		e, idx, ok := m.pick()
		if !ok {
			return zero, io.EOF
		}

		v, err := e.src.Next(ctx)
		if err == nil {
			m.mu.Lock()
			m.produced++
			m.mu.Unlock()

			return v, nil
		}
		if !errors.Is(err, io.EOF) {
			return zero, fmt.Errorf("source %d: %w", idx, err)
		}

		m.exhaust(e)
	}
}

// pick selects the next active source, sealing the feed when none is left.
func (m *Multiplexer[T]) pick() (*entry[T], int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return nil, 0, false
	}
	m.started = true
	if m.active == 0 {
		m.sealed = true
		return nil, 0, false
	}

	n := len(m.entries)
	for i := range n {
		idx := (m.cursor + i) % n
		if e := m.entries[idx]; !e.exhausted {
			m.cursor = idx + 1

			return e, idx, true
		}
	}

	// unreachable while active > 0
	m.sealed = true

	return nil, 0, false
}

func (m *Multiplexer[T]) exhaust(e *entry[T]) {
	m.mu.Lock()
	if e.exhausted {
		m.mu.Unlock()
		return
	}
	e.exhausted = true
	m.active--
	notify := e.onExhausted
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Close ends the feed immediately, dropping sources that were not drained.
// Exhaustion callbacks of dropped sources are not called.
func (m *Multiplexer[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sealed = true
	m.active = 0
	m.entries = nil
}

// Reset clears every source so the multiplexer accepts registrations again.
//
// Returns:
//   - error: ErrDraining when Next has been called but the feed has not ended
func (m *Multiplexer[T]) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started && !m.sealed {
		return ErrDraining
	}
	m.entries = nil
	m.cursor = 0
	m.active = 0
	m.started = false
	m.sealed = false
	m.produced = 0

	return nil
}

// Len returns the number of sources added since the last reset.
func (m *Multiplexer[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Sealed reports whether the feed has ended.
func (m *Multiplexer[T]) Sealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sealed
}

// Stats returns a snapshot of the counters.
func (m *Multiplexer[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{Sources: len(m.entries), Active: m.active, Produced: m.produced, Sealed: m.sealed}
}
