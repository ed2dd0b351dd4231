package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/sharedtrain/internal/hash"
	"github.com/arloliu/sharedtrain/types"
)

// introAck is the reply of a coordination shard to an introduction.
type introAck struct {
	Accepted bool   `json:"accepted"`
	Shard    int    `json:"shard"`
	Reason   string `json:"reason,omitempty"`
}

// ResolveTransport returns the transport selected by cfg.Transport, or nil
// when the exchange is disabled ("none"), the type is unknown, or conn is nil.
//
// Parameters:
//   - conn: NATS connection shared by the process
//   - cfg: Exchange configuration; zero fields take defaults
//
// Returns:
//   - types.Transport: The transport, nil when none can be resolved
func ResolveTransport(conn *nats.Conn, cfg Config) types.Transport {
	if conn == nil {
		return nil
	}
	cfg.SetDefaults()

	switch cfg.Transport {
	case types.TransportRouted:
		return &routedTransport{
			conn:   conn,
			prefix: cfg.SubjectPrefix,
			shards: cfg.Shards,
			ring:   NewShardRing(cfg.Shards),
		}
	case types.TransportBroadcast:
		return &broadcastTransport{conn: conn, prefix: cfg.SubjectPrefix}
	default:
		return nil
	}
}

// routedTransport publishes updates to every shard and introduces the node
// to the shard that owns it.
type routedTransport struct {
	conn   *nats.Conn
	prefix string
	shards int
	ring   *hash.Ring
}

var _ types.Transport = (*routedTransport)(nil)

func (t *routedTransport) Kind() types.TransportType {
	return types.TransportRouted
}

func (t *routedTransport) SendAll(_ context.Context, payload []byte) error {
	var errs []error
	for i := range t.shards {
		if err := t.conn.Publish(shardUpdatesSubject(t.prefix, i), payload); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func (t *routedTransport) SendIntroduction(ctx context.Context, nodeID string, payload []byte) error {
	shard := t.ring.OwnerIndex(nodeID)
	if shard < 0 {
		return fmt.Errorf("no shard owns node %s", nodeID)
	}

	reply, err := t.conn.RequestWithContext(ctx, shardIntroSubject(t.prefix, shard), payload)
	if err != nil {
		return fmt.Errorf("introduction to shard %d: %w", shard, err)
	}

	var ack introAck
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return fmt.Errorf("decode introduction ack from shard %d: %w", shard, err)
	}
	if !ack.Accepted {
		return fmt.Errorf("shard %d rejected introduction: %s", shard, ack.Reason)
	}

	return nil
}

func (t *routedTransport) Listen(nodeID string, deliver func(payload []byte)) (func() error, error) {
	sub, err := subscribeWithRetry(context.Background(), t.conn, nodeSubject(t.prefix, nodeID), func(m *nats.Msg) {
		deliver(m.Data)
	})
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

// broadcastTransport shares one subject between all nodes.
type broadcastTransport struct {
	conn   *nats.Conn
	prefix string
}

var _ types.Transport = (*broadcastTransport)(nil)

func (t *broadcastTransport) Kind() types.TransportType {
	return types.TransportBroadcast
}

func (t *broadcastTransport) SendAll(_ context.Context, payload []byte) error {
	return t.conn.Publish(broadcastSubject(t.prefix), payload)
}

// SendIntroduction publishes the introduction and flushes, so a nil error
// means the server accepted it. There is no coordinator to acknowledge it.
func (t *broadcastTransport) SendIntroduction(ctx context.Context, _ string, payload []byte) error {
	if err := t.conn.Publish(broadcastIntroSubject(t.prefix), payload); err != nil {
		return err
	}

	return t.conn.FlushWithContext(ctx)
}

func (t *broadcastTransport) Listen(_ string, deliver func(payload []byte)) (func() error, error) {
	sub, err := subscribeWithRetry(context.Background(), t.conn, broadcastSubject(t.prefix), func(m *nats.Msg) {
		deliver(m.Data)
	})
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}
