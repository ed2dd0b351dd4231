package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharedtrain/internal/heartbeat"
	"github.com/arloliu/sharedtrain/internal/kvutil"
	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/internal/metrics"
	"github.com/arloliu/sharedtrain/internal/natsutil"
	"github.com/arloliu/sharedtrain/internal/stableid"
	"github.com/arloliu/sharedtrain/types"
)

const (
	heartbeatPrefix = "node-hb"
	bucketAttempts  = 3
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger types.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the collector for exchange traffic.
func WithMetrics(m types.ExchangeMetrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Client is the NATS implementation of types.ExchangeClient.
//
// Initialize claims or pins the node identity, starts the heartbeat, opens
// the node registry and begins delivering inbound updates to the handler.
// It is safe for concurrent use.
type Client struct {
	conn    *nats.Conn
	cfg     Config
	logger  types.Logger
	metrics types.ExchangeMetrics

	mu          sync.Mutex
	initialized bool
	closed      bool
	nodeID      string
	transport   types.Transport
	claimer     *stableid.Claimer
	heartbeat   *heartbeat.Publisher
	registry    jetstream.KeyValue
	stopListen  func() error

	introduced atomic.Bool
}

var _ types.ExchangeClient = (*Client)(nil)

// NewClient creates an uninitialized exchange client.
//
// Parameters:
//   - conn: NATS connection, required
//   - cfg: Exchange configuration; zero fields take defaults
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Client: The client
//   - error: ErrNATSConnectionRequired or a configuration error
func NewClient(conn *nats.Conn, cfg Config, opts ...Option) (*Client, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		cfg:     cfg,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Initialize binds transport and handler and joins the exchange. Calling it
// again after success is a no-op.
//
// Returns:
//   - error: ErrNoTransport, ErrIDClaimFailed, ErrClosed, or a NATS error
func (c *Client) Initialize(ctx context.Context, transport types.Transport, handler types.UpdateHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrClosed
	}
	if c.initialized {
		return nil
	}
	if transport == nil {
		return types.ErrNoTransport
	}
	if handler == nil {
		return fmt.Errorf("%w: update handler is nil", types.ErrInvalidConfig)
	}

	js, err := jetstream.New(c.conn)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	var cleanup []func()
	rollback := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	nodeID, claimer, err := c.resolveNodeID(opCtx, js)
	if err != nil {
		return err
	}
	if claimer != nil {
		cleanup = append(cleanup, func() { _ = claimer.Release(context.Background()) })
	}

	hbKV, err := kvutil.EnsureBucket(opCtx, js, jetstream.KeyValueConfig{
		Bucket:  c.cfg.KVBuckets.HeartbeatBucket,
		TTL:     c.cfg.HeartbeatTTL,
		History: 1,
	}, bucketAttempts)
	if err != nil {
		rollback()
		return err
	}

	publisher := heartbeat.New(hbKV, heartbeatPrefix, c.cfg.HeartbeatInterval,
		heartbeat.WithLogger(c.logger), heartbeat.WithMetrics(c.metrics))
	if err := publisher.Start(opCtx, nodeID); err != nil {
		rollback()
		return err
	}
	cleanup = append(cleanup, func() { _ = publisher.Stop() })

	registry, err := kvutil.EnsureBucket(opCtx, js, jetstream.KeyValueConfig{
		Bucket:  c.cfg.KVBuckets.RegistryBucket,
		History: 1,
	}, bucketAttempts)
	if err != nil {
		rollback()
		return err
	}

	kind := string(transport.Kind())
	stop, err := transport.Listen(nodeID, func(payload []byte) {
		c.deliver(kind, nodeID, handler, payload)
	})
	if err != nil {
		rollback()
		return fmt.Errorf("failed to listen for updates: %w", err)
	}

	c.nodeID = nodeID
	c.transport = transport
	c.claimer = claimer
	c.heartbeat = publisher
	c.registry = registry
	c.stopListen = stop
	c.initialized = true

	c.logger.Info("exchange client initialized", "node_id", nodeID, "transport", kind)

	return nil
}

func (c *Client) resolveNodeID(ctx context.Context, js jetstream.JetStream) (string, *stableid.Claimer, error) {
	if c.cfg.NodeID != "" {
		return c.cfg.NodeID, nil, nil
	}

	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:  c.cfg.KVBuckets.NodeIDBucket,
		TTL:     c.cfg.NodeIDTTL,
		History: 1,
	}, bucketAttempts)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", types.ErrIDClaimFailed, err)
	}

	claimer := stableid.NewClaimer(kv, c.cfg.NodeIDPrefix, c.cfg.NodeIDMin, c.cfg.NodeIDMax, c.cfg.NodeIDTTL, c.logger)
	nodeID, err := claimer.Claim(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", types.ErrIDClaimFailed, err)
	}
	if err := claimer.StartRenewal(); err != nil {
		_ = claimer.Release(ctx)
		return "", nil, fmt.Errorf("%w: %w", types.ErrIDClaimFailed, err)
	}

	return nodeID, claimer, nil
}

// deliver decodes one inbound payload and hands it to the update handler.
// Echoes of this node's own updates and corrupted messages are dropped.
func (c *Client) deliver(kind, nodeID string, handler types.UpdateHandler, payload []byte) {
	c.metrics.RecordMessageReceived(kind, len(payload))

	var msg types.EncodedGradientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("dropping undecodable update", "node_id", nodeID, "error", err)
		return
	}
	if msg.NodeID == nodeID {
		return
	}
	if err := msg.Verify(); err != nil {
		c.logger.Warn("dropping corrupted update", "from", msg.NodeID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OperationTimeout)
	defer cancel()

	if err := handler.ReceiveUpdate(ctx, &msg); err != nil {
		c.logger.Warn("update rejected", "from", msg.NodeID, "sequence", msg.Sequence, "error", err)
	}
}

// IsInitialized reports whether Initialize completed.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initialized
}

// NodeID returns the node identity, empty before Initialize.
func (c *Client) NodeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nodeID
}

// Introduced reports whether an introduction was sent successfully.
func (c *Client) Introduced() bool {
	return c.introduced.Load()
}

// SendIntroduction announces this node to its coordination point and records
// it in the node registry. Only the first successful call sends anything; a
// failed attempt may be retried.
//
// Returns:
//   - error: ErrNotInitialized, ErrAlreadyIntroduced, or ErrHandshakeFailed
//     (also matching ErrConnectivity when NATS was unreachable)
func (c *Client) SendIntroduction(ctx context.Context, address string, port int) error {
	c.mu.Lock()
	initialized := c.initialized
	nodeID := c.nodeID
	transport := c.transport
	registry := c.registry
	c.mu.Unlock()

	if !initialized {
		return types.ErrNotInitialized
	}
	if !c.introduced.CompareAndSwap(false, true) {
		return types.ErrAlreadyIntroduced
	}

	intro := types.IntroductionMessage{
		NodeID:    nodeID,
		Address:   address,
		Port:      port,
		Transport: transport.Kind(),
		SessionID: uuid.NewString(),
		SentAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(intro)
	if err != nil {
		c.introduced.Store(false)
		return fmt.Errorf("%w: %w", types.ErrHandshakeFailed, err)
	}

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	err = c.introduce(hctx, registry, transport, nodeID, payload)
	c.metrics.RecordHandshake(err == nil, time.Since(start).Seconds())
	if err != nil {
		c.introduced.Store(false)
		c.logger.Error("introduction failed", "node_id", nodeID, "address", address, "port", port, "error", err)

		return handshakeError(err)
	}

	c.logger.Info("introduction sent", "node_id", nodeID, "address", address, "port", port, "session_id", intro.SessionID)

	return nil
}

func (c *Client) introduce(ctx context.Context, registry jetstream.KeyValue, transport types.Transport, nodeID string, payload []byte) error {
	if _, err := registry.Put(ctx, nodeID, payload); err != nil {
		return fmt.Errorf("registry put: %w", err)
	}

	return transport.SendIntroduction(ctx, nodeID, payload)
}

func handshakeError(err error) error {
	if natsutil.IsConnectivityError(err) || natsutil.IsNoResponders(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", types.ErrHandshakeFailed, types.ErrConnectivity, err)
	}

	return fmt.Errorf("%w: %w", types.ErrHandshakeFailed, err)
}

// SendToAllCoordinationPoints stamps msg with this node's ID and publishes it
// to every coordination point of the transport.
//
// Returns:
//   - error: ErrNotInitialized, or the wrapped transport error
func (c *Client) SendToAllCoordinationPoints(ctx context.Context, msg *types.EncodedGradientMessage) error {
	c.mu.Lock()
	initialized := c.initialized
	nodeID := c.nodeID
	transport := c.transport
	c.mu.Unlock()

	if !initialized {
		return types.ErrNotInitialized
	}

	out := *msg
	out.NodeID = nodeID
	out.Checksum = out.ComputeChecksum()

	payload, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	err = transport.SendAll(ctx, payload)
	c.metrics.RecordMessageSent(string(transport.Kind()), len(payload), err == nil)
	if err != nil {
		if natsutil.IsConnectivityError(err) {
			return fmt.Errorf("send update %d: %w: %w", out.Sequence, types.ErrConnectivity, err)
		}

		return fmt.Errorf("send update %d: %w", out.Sequence, err)
	}

	return nil
}

// Peers returns the latest introduction of every node in the registry.
func (c *Client) Peers(ctx context.Context) ([]types.IntroductionMessage, error) {
	c.mu.Lock()
	registry := c.registry
	c.mu.Unlock()

	if registry == nil {
		return nil, types.ErrNotInitialized
	}

	return ReadRegistry(ctx, registry)
}

// ReadRegistry reads every introduction currently held in a registry bucket.
func ReadRegistry(ctx context.Context, registry jetstream.KeyValue) ([]types.IntroductionMessage, error) {
	watcher, err := registry.WatchAll(ctx, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, err
	}
	defer func() { _ = watcher.Stop() }()

	var peers []types.IntroductionMessage
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry := <-watcher.Updates():
			// nil marks the end of the initial replay
			if entry == nil {
				return peers, nil
			}

			var intro types.IntroductionMessage
			if err := json.Unmarshal(entry.Value(), &intro); err != nil {
				continue
			}
			peers = append(peers, intro)
		}
	}
}

// Close leaves the exchange: it stops update delivery and the heartbeat and
// releases a claimed node ID. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if !c.initialized {
		return nil
	}

	var errs []error
	if c.stopListen != nil {
		if err := c.stopListen(); err != nil {
			errs = append(errs, fmt.Errorf("stop listening: %w", err))
		}
	}
	if c.heartbeat != nil {
		if err := c.heartbeat.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.claimer != nil {
		if err := c.claimer.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("exchange client closed", "node_id", c.nodeID)

	return errors.Join(errs...)
}
