package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/sharedtrain/internal/hash"
	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/types"
)

// ShardOption configures a Shard.
type ShardOption func(*Shard)

// WithShardLogger sets the shard logger.
func WithShardLogger(logger types.Logger) ShardOption {
	return func(s *Shard) {
		s.logger = logging.OrNop(logger)
	}
}

// WithHeartbeatBucket makes the shard drop members whose heartbeat is gone.
// Deletions are picked up from a KV watch; expired heartbeats by a periodic
// sweep every interval.
func WithHeartbeatBucket(kv jetstream.KeyValue, interval time.Duration) ShardOption {
	return func(s *Shard) {
		s.heartbeats = kv
		s.sweepInterval = interval
	}
}

// member is a node introduced to a shard.
type member struct {
	intro types.IntroductionMessage
}

// Shard is one coordination point of the routed transport.
//
// It answers the introductions of the nodes it owns on the shard ring and
// forwards every update it receives to all of its members except the sender.
type Shard struct {
	conn   *nats.Conn
	prefix string
	index  int
	ring   *hash.Ring
	logger types.Logger

	heartbeats    jetstream.KeyValue
	sweepInterval time.Duration

	members *xsync.Map[string, member]

	mu      sync.Mutex
	started bool
	subs    []*nats.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewShard creates coordination shard index of cfg.Shards.
func NewShard(conn *nats.Conn, cfg Config, index int, opts ...ShardOption) (*Shard, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	cfg.SetDefaults()
	if index < 0 || index >= cfg.Shards {
		return nil, fmt.Errorf("%w: shard index %d outside 0..%d", types.ErrInvalidConfig, index, cfg.Shards-1)
	}

	s := &Shard{
		conn:    conn,
		prefix:  cfg.SubjectPrefix,
		index:   index,
		ring:    NewShardRing(cfg.Shards),
		logger:  logging.NewNop(),
		members: xsync.NewMap[string, member](),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start subscribes to the shard subjects.
func (s *Shard) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	intro, err := subscribeWithRetry(ctx, s.conn, shardIntroSubject(s.prefix, s.index), s.handleIntro)
	if err != nil {
		return err
	}
	updates, err := subscribeWithRetry(ctx, s.conn, shardUpdatesSubject(s.prefix, s.index), s.handleUpdate)
	if err != nil {
		_ = intro.Unsubscribe()
		return err
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		_ = intro.Unsubscribe()
		_ = updates.Unsubscribe()

		return fmt.Errorf("flush shard subscriptions: %w", err)
	}
	s.subs = []*nats.Subscription{intro, updates}

	if s.heartbeats != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.monitorMembers(watchCtx)
	}

	s.started = true
	s.logger.Info("coordination shard started", "shard", s.index, "prefix", s.prefix)

	return nil
}

// Stop unsubscribes and stops member monitoring.
func (s *Shard) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	subs := s.subs
	s.subs = nil
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
		<-done
	}

	s.logger.Info("coordination shard stopped", "shard", s.index)

	return errors.Join(errs...)
}

func (s *Shard) handleIntro(m *nats.Msg) {
	var intro types.IntroductionMessage
	if err := json.Unmarshal(m.Data, &intro); err != nil || intro.NodeID == "" {
		s.reply(m, introAck{Shard: s.index, Reason: "malformed introduction"})
		return
	}

	if owner := s.ring.OwnerIndex(intro.NodeID); owner != s.index {
		s.reply(m, introAck{Shard: s.index, Reason: fmt.Sprintf("node %s belongs to shard %d", intro.NodeID, owner)})
		return
	}

	s.members.Store(intro.NodeID, member{intro: intro})
	s.logger.Info("node introduced", "shard", s.index, "node_id", intro.NodeID,
		"address", intro.Address, "port", intro.Port, "session_id", intro.SessionID)
	s.reply(m, introAck{Accepted: true, Shard: s.index})
}

func (s *Shard) reply(m *nats.Msg, ack introAck) {
	data, _ := json.Marshal(ack)
	if err := m.Respond(data); err != nil {
		s.logger.Warn("failed to answer introduction", "shard", s.index, "error", err)
	}
}

func (s *Shard) handleUpdate(m *nats.Msg) {
	var origin struct {
		NodeID string `json:"node_id"`
	}
	if err := json.Unmarshal(m.Data, &origin); err != nil {
		s.logger.Warn("dropping undecodable update", "shard", s.index, "error", err)
		return
	}

	s.members.Range(func(nodeID string, _ member) bool {
		if nodeID == origin.NodeID {
			return true
		}
		if err := s.conn.Publish(nodeSubject(s.prefix, nodeID), m.Data); err != nil {
			s.logger.Warn("failed to forward update", "shard", s.index, "node_id", nodeID, "error", err)
		}

		return true
	})
}

// monitorMembers removes members whose heartbeat key was deleted or expired.
func (s *Shard) monitorMembers(ctx context.Context) {
	defer close(s.done)

	watcher, err := s.heartbeats.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		s.logger.Warn("heartbeat watch unavailable, sweeping only", "shard", s.index, "error", err)
	}

	var updates <-chan jetstream.KeyValueEntry
	if watcher != nil {
		defer func() { _ = watcher.Stop() }()
		updates = watcher.Updates()
	}

	interval := s.sweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if entry == nil {
				continue
			}
			op := entry.Operation()
			if op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
				s.dropMember(strings.TrimPrefix(entry.Key(), heartbeatPrefix+"."), "heartbeat deleted")
			}
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Shard) sweep(ctx context.Context) {
	var gone []string
	s.members.Range(func(nodeID string, _ member) bool {
		if _, err := s.heartbeats.Get(ctx, heartbeatPrefix+"."+nodeID); errors.Is(err, jetstream.ErrKeyNotFound) {
			gone = append(gone, nodeID)
		}

		return true
	})

	for _, nodeID := range gone {
		s.dropMember(nodeID, "heartbeat expired")
	}
}

func (s *Shard) dropMember(nodeID, reason string) {
	if _, ok := s.members.LoadAndDelete(nodeID); ok {
		s.logger.Info("node left shard", "shard", s.index, "node_id", nodeID, "reason", reason)
	}
}

// Members returns the sorted IDs of the nodes currently served.
func (s *Shard) Members() []string {
	ids := make([]string, 0, s.members.Size())
	s.members.Range(func(nodeID string, _ member) bool {
		ids = append(ids, nodeID)
		return true
	})
	slices.Sort(ids)

	return ids
}

// Index returns the shard index.
func (s *Shard) Index() int {
	return s.index
}

// Member returns the introduction of a served node.
func (s *Shard) Member(nodeID string) (types.IntroductionMessage, bool) {
	m, ok := s.members.Load(nodeID)
	return m.intro, ok
}
