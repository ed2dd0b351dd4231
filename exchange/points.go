package exchange

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharedtrain/internal/kvutil"
	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/types"
)

// CoordinationPoints runs every shard of the routed transport on one connection.
type CoordinationPoints struct {
	shards []*Shard
}

// StartCoordinationPoints starts cfg.Shards shards that drop nodes whose
// heartbeat disappears from the heartbeat bucket.
//
// Parameters:
//   - ctx: Context bounding bucket setup and subscription
//   - conn: NATS connection
//   - cfg: Exchange configuration; zero fields take defaults
//   - logger: Logger, nil for none
//
// Returns:
//   - *CoordinationPoints: Running shards
//   - error: Configuration, bucket or subscription failure; shards started
//     before the failure are stopped again
//
// Example:
//
//	points, err := exchange.StartCoordinationPoints(ctx, nc, cfg.Exchange, logger)
//	if err != nil {
//	    return err
//	}
//	defer points.Stop()
func StartCoordinationPoints(ctx context.Context, conn *nats.Conn, cfg Config, logger types.Logger) (*CoordinationPoints, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger)

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	hbKV, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:  cfg.KVBuckets.HeartbeatBucket,
		TTL:     cfg.HeartbeatTTL,
		History: 1,
	}, bucketAttempts)
	if err != nil {
		return nil, err
	}

	p := &CoordinationPoints{}
	for i := range cfg.Shards {
		s, err := NewShard(conn, cfg, i,
			WithShardLogger(logger),
			WithHeartbeatBucket(hbKV, cfg.HeartbeatInterval),
		)
		if err == nil {
			err = s.Start(ctx)
		}
		if err != nil {
			_ = p.Stop()
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		p.shards = append(p.shards, s)
	}

	logger.Info("coordination points started", "shards", cfg.Shards, "prefix", cfg.SubjectPrefix)

	return p, nil
}

// Shards returns the running shards ordered by index.
func (p *CoordinationPoints) Shards() []*Shard {
	return slices.Clone(p.shards)
}

// Members returns the sorted IDs of every node served by any shard.
func (p *CoordinationPoints) Members() []string {
	var ids []string
	for _, s := range p.shards {
		ids = append(ids, s.Members()...)
	}
	slices.Sort(ids)

	return ids
}

// Stop stops every shard.
func (p *CoordinationPoints) Stop() error {
	var errs []error
	for _, s := range p.shards {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", s.Index(), err))
		}
	}

	return errors.Join(errs...)
}

// OpenRegistry opens the registry bucket holding the introductions of every
// node, creating it when missing. Pair it with ReadRegistry or a watch.
func OpenRegistry(ctx context.Context, conn *nats.Conn, cfg Config) (jetstream.KeyValue, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	cfg.SetDefaults()

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:  cfg.KVBuckets.RegistryBucket,
		History: 1,
	}, bucketAttempts)
}
