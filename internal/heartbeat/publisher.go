package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/internal/metrics"
	"github.com/arloliu/sharedtrain/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoNodeID       = errors.New("node ID not set")
)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger used for failed beats.
func WithLogger(logger types.Logger) Option {
	return func(p *Publisher) {
		p.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the collector receiving heartbeat outcomes.
func WithMetrics(m types.ExchangeMetrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Publisher publishes periodic heartbeats to a NATS KV bucket.
type Publisher struct {
	kv       jetstream.KeyValue
	prefix   string
	interval time.Duration
	logger   types.Logger
	metrics  types.ExchangeMetrics

	mu      sync.Mutex
	nodeID  string
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a heartbeat publisher.
//
// Parameters:
//   - kv: KV bucket for heartbeat keys, with TTL of about 3x interval
//   - prefix: Key prefix (e.g., "node-hb")
//   - interval: Beat interval
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Publisher: Stopped publisher; call Start to begin beating
func New(kv jetstream.KeyValue, prefix string, interval time.Duration, opts ...Option) *Publisher {
	p := &Publisher{
		kv:       kv,
		prefix:   prefix,
		interval: interval,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start publishes the first heartbeat synchronously, then keeps beating in
// the background until Stop.
//
// Returns:
//   - error: ErrAlreadyStarted, ErrNoNodeID, or the initial publish error
func (p *Publisher) Start(ctx context.Context, nodeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if nodeID == "" {
		return ErrNoNodeID
	}

	p.nodeID = nodeID
	if err := p.publish(ctx); err != nil {
		p.metrics.RecordHeartbeat(nodeID, false)
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}
	p.metrics.RecordHeartbeat(nodeID, true)

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.publishLoop(p.stopCh, p.doneCh)

	return nil
}

// Stop ends publishing and deletes the heartbeat key so the node's departure
// is visible before the TTL runs out.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	close(p.stopCh)
	doneCh := p.doneCh
	key := p.key()
	p.mu.Unlock()

	<-doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("stopped but failed to delete heartbeat: %w", err)
	}

	return nil
}

func (p *Publisher) publishLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			p.mu.Lock()
			err := p.publish(ctx)
			nodeID := p.nodeID
			p.mu.Unlock()
			cancel()

			if err != nil {
				p.logger.Warn("heartbeat publish failed", "node_id", nodeID, "error", err)
			}
			p.metrics.RecordHeartbeat(nodeID, err == nil)
		}
	}
}

// publish writes the current timestamp; p.mu must be held.
func (p *Publisher) publish(ctx context.Context) error {
	value := []byte(time.Now().Format(time.RFC3339Nano))
	if _, err := p.kv.Put(ctx, p.key(), value); err != nil {
		return fmt.Errorf("failed to publish heartbeat for %s: %w", p.nodeID, err)
	}

	return nil
}

func (p *Publisher) key() string {
	return fmt.Sprintf("%s.%s", p.prefix, p.nodeID)
}

// NodeID returns the node the publisher beats for.
func (p *Publisher) NodeID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.nodeID
}

// IsStarted reports whether the publisher is running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}
