// Package stableid claims a stable node identity from a pool held in a
// JetStream KV bucket and keeps the claim alive while the node participates
// in the parameter exchange.
package stableid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/types"
)

// Common errors returned by the claimer.
var (
	ErrNoAvailableID = errors.New("no available node ID in pool")
	ErrNotClaimed    = errors.New("node ID not claimed")
	ErrAlreadyClosed = errors.New("claimer already closed")
)

// Claimer handles stable node ID claiming and renewal.
//
// IDs are claimed with an atomic KV Create, so two nodes can never hold the
// same ID. The bucket TTL expires claims of nodes that stop renewing.
type Claimer struct {
	kv     jetstream.KeyValue
	prefix string
	minID  int
	maxID  int
	ttl    time.Duration
	logger types.Logger

	mu       sync.Mutex
	nodeID   string
	closed   bool
	renewing bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewClaimer creates a new stable ID claimer.
//
// Parameters:
//   - kv: KV bucket holding the claims
//   - prefix: ID prefix ("node" yields "node-0", "node-1", ...)
//   - minID: Lowest ID number (inclusive)
//   - maxID: Highest ID number (inclusive)
//   - ttl: Claim TTL; renewal runs every ttl/3
//   - logger: Logger, nil for none
//
// Example:
//
//	claimer := stableid.NewClaimer(kv, "node", 0, 255, 30*time.Second, logger)
//	nodeID, err := claimer.Claim(ctx)
func NewClaimer(kv jetstream.KeyValue, prefix string, minID, maxID int, ttl time.Duration, logger types.Logger) *Claimer {
	return &Claimer{
		kv:     kv,
		prefix: prefix,
		minID:  minID,
		maxID:  maxID,
		ttl:    ttl,
		logger: logging.OrNop(logger),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Claim takes the lowest free ID of the pool.
//
// Returns:
//   - string: The claimed ID
//   - error: ErrNoAvailableID when every ID is taken, ErrAlreadyClosed after
//     Close, or the KV error
func (c *Claimer) Claim(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrAlreadyClosed
	}
	if c.nodeID != "" {
		return c.nodeID, nil
	}

	for id := c.minID; id <= c.maxID; id++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		nodeID := fmt.Sprintf("%s-%d", c.prefix, id)
		rev, err := c.kv.Create(ctx, nodeID, []byte(time.Now().Format(time.RFC3339)))
		if err == nil {
			c.nodeID = nodeID
			c.logger.Info("node ID claimed", "node_id", nodeID, "revision", rev, "attempts", id-c.minID+1)

			return nodeID, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return "", fmt.Errorf("failed to claim ID %s: %w", nodeID, err)
		}
	}

	c.logger.Error("node ID pool exhausted", "prefix", c.prefix, "pool_size", c.maxID-c.minID+1)

	return "", ErrNoAvailableID
}

// StartRenewal renews the claim in the background every ttl/3 until Release
// or Close.
//
// Returns:
//   - error: ErrNotClaimed before a successful Claim, ErrAlreadyClosed after Close
func (c *Claimer) StartRenewal() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrAlreadyClosed
	}
	if c.nodeID == "" {
		return ErrNotClaimed
	}
	if c.renewing {
		return nil
	}
	c.renewing = true

	go c.renewalLoop(c.nodeID)

	return nil
}

func (c *Claimer) renewalLoop(nodeID string) {
	defer close(c.doneCh)

	interval := c.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, err := c.kv.Put(ctx, nodeID, []byte(time.Now().Format(time.RFC3339)))
			cancel()
			if err != nil {
				c.logger.Warn("node ID renewal failed", "node_id", nodeID, "error", err)
			}
		}
	}
}

// Release stops renewal and deletes the claim so the ID can be reused.
//
// Returns:
//   - error: ErrNotClaimed when nothing is held, or the KV delete error
func (c *Claimer) Release(ctx context.Context) error {
	c.mu.Lock()
	nodeID := c.nodeID
	if nodeID == "" {
		c.mu.Unlock()
		return ErrNotClaimed
	}
	c.nodeID = ""
	c.stopLocked()
	c.mu.Unlock()

	c.waitRenewal(ctx)

	if err := c.kv.Delete(ctx, nodeID); err != nil {
		return fmt.Errorf("failed to delete ID %s: %w", nodeID, err)
	}
	c.logger.Debug("node ID released", "node_id", nodeID)

	return nil
}

// Close stops renewal without deleting the claim; the ID expires with the TTL.
func (c *Claimer) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()
}

// stopLocked signals the renewal loop; c.mu must be held.
func (c *Claimer) stopLocked() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

func (c *Claimer) waitRenewal(ctx context.Context) {
	c.mu.Lock()
	renewing := c.renewing
	c.mu.Unlock()

	if !renewing {
		return
	}

	select {
	case <-c.doneCh:
	case <-ctx.Done():
	}
}

// NodeID returns the claimed ID, empty when nothing is held.
func (c *Claimer) NodeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nodeID
}
