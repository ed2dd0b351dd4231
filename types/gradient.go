package types

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"
)

// EncodedGradientMessage is a sparsified gradient update travelling between nodes.
//
// The accumulator owns a message until it hands it to its MessageHandler; the
// exchange client owns it afterwards and stamps NodeID before sending.
type EncodedGradientMessage struct {
	// NodeID identifies the originating node.
	NodeID string `json:"node_id"`
	// Sequence increases by one per message from a node and restarts after Reset.
	Sequence uint64 `json:"sequence"`
	// Threshold is the step applied per encoded component.
	Threshold float32 `json:"threshold"`
	// Length is the number of components of the dense gradient.
	Length int `json:"length"`
	// Payload holds little-endian int32 values, one per significant component,
	// encoding index+1 with the sign of the update.
	Payload []byte `json:"payload"`
	// Checksum is the xxh3 hash of Payload.
	Checksum uint64 `json:"checksum"`
}

// Components returns the number of encoded components in the payload.
func (m *EncodedGradientMessage) Components() int {
	return len(m.Payload) / 4
}

// ComputeChecksum returns the xxh3 hash of the payload.
func (m *EncodedGradientMessage) ComputeChecksum() uint64 {
	return xxh3.Hash(m.Payload)
}

// Verify checks the payload against the recorded checksum.
//
// Returns:
//   - error: ErrChecksumMismatch wrapped with the node and sequence, nil if valid
func (m *EncodedGradientMessage) Verify() error {
	if len(m.Payload)%4 != 0 {
		return fmt.Errorf("%w: payload length %d from %s#%d", ErrChecksumMismatch, len(m.Payload), m.NodeID, m.Sequence)
	}
	if m.ComputeChecksum() != m.Checksum {
		return fmt.Errorf("%w: from %s#%d", ErrChecksumMismatch, m.NodeID, m.Sequence)
	}

	return nil
}

// GradientAccumulator is what a model sees of the gradient exchange.
type GradientAccumulator interface {
	// StoreUpdate folds a locally computed gradient into the accumulator.
	StoreUpdate(ctx context.Context, gradient []float32) error

	// ApplyUpdate adds every queued update to target and reports how many were applied.
	ApplyUpdate(target []float32) (int, error)

	// HasAnything reports whether updates are waiting to be applied.
	HasAnything() bool

	// Reset clears all encoding state between work units.
	Reset()
}

// MultiConsumerAccumulator is implemented by accumulators that deliver every
// update to each of several consumers. The multi-replica trainer binds one
// consumer per replica, so replicas holding separate parameters stay in step.
type MultiConsumerAccumulator interface {
	GradientAccumulator

	// Consumers replaces the consumer set with n views; each view applies
	// every queued update exactly once.
	Consumers(n int) []GradientAccumulator
}

// MessageHandler receives the encoded messages an accumulator produces.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *EncodedGradientMessage) error
}

// MessageHandlerFunc adapts a function to the MessageHandler interface.
type MessageHandlerFunc func(ctx context.Context, msg *EncodedGradientMessage) error

// HandleMessage calls f(ctx, msg).
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, msg *EncodedGradientMessage) error {
	return f(ctx, msg)
}

// UpdateHandler receives encoded messages arriving from other nodes.
type UpdateHandler interface {
	ReceiveUpdate(ctx context.Context, msg *EncodedGradientMessage) error
}
