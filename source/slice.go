package source

import (
	"context"
	"io"
	"sync"

	"github.com/arloliu/sharedtrain/types"
)

// Slice iterates over a fixed list of batches.
type Slice struct {
	mu      sync.Mutex
	batches []types.Batch
	next    int
}

var _ types.Iterator = (*Slice)(nil)

// NewSlice creates an iterator over batches.
//
// The slice is copied, so later changes by the caller are not observed.
//
// Example:
//
//	src := source.NewSlice(batches)
//	ctx, err := coord.Attach(ctx, src)
func NewSlice(batches []types.Batch) *Slice {
	return &Slice{batches: append([]types.Batch(nil), batches...)}
}

// Next returns the next batch, or io.EOF once all were returned.
func (s *Slice) Next(ctx context.Context) (types.Batch, error) {
	if err := ctx.Err(); err != nil {
		return types.Batch{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.batches) {
		return types.Batch{}, io.EOF
	}
	b := s.batches[s.next]
	s.next++

	return b, nil
}

// Remaining returns the number of batches not yet returned.
func (s *Slice) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.batches) - s.next
}

// Rewind restarts iteration from the first batch, for a new epoch.
func (s *Slice) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next = 0
}

// Channel iterates over batches received from a channel.
type Channel struct {
	ch <-chan types.Batch
}

var _ types.Iterator = (*Channel)(nil)

// NewChannel creates an iterator that ends when ch is closed.
func NewChannel(ch <-chan types.Batch) *Channel {
	return &Channel{ch: ch}
}

// Next blocks for the next batch. It returns io.EOF after ch is closed and
// ctx.Err() if ctx ends first.
func (c *Channel) Next(ctx context.Context) (types.Batch, error) {
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
