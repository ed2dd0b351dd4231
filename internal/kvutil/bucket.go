// Package kvutil provides helpers for NATS JetStream KeyValue buckets shared
// by every node of a training job.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	defaultAttempts = 3
	baseBackoff     = 10 * time.Millisecond
)

// EnsureBucket opens the bucket named in cfg, creating it when missing.
//
// Nodes of one job start at the same moment and race to create the same
// buckets. A losing Create returns ErrBucketExists and the bucket is opened
// instead; transient failures are retried with doubling backoff.
//
// Parameters:
//   - ctx: Context bounding all attempts
//   - js: JetStream context
//   - cfg: Bucket configuration
//   - attempts: Maximum attempts, <= 0 means 3
//
// Returns:
//   - jetstream.KeyValue: The bucket
//   - error: Last failure once attempts are exhausted, or the context error
//
// Example:
//
//	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
//	    Bucket: "sharedtrain-heartbeats",
//	    TTL:    6 * time.Second,
//	}, 3)
func EnsureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, attempts int) (jetstream.KeyValue, error) {
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var lastErr error
	for attempt := range attempts {
		kv, err := openOrCreate(ctx, js, cfg)
		if err == nil {
			return kv, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, ctx.Err())
		}
		if attempt == attempts-1 {
			break
		}

		backoff := baseBackoff << attempt //nolint:gosec // attempt is bounded by attempts
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("ensure bucket %s after %d attempts: %w", cfg.Bucket, attempts, lastErr)
}

func openOrCreate(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.CreateKeyValue(ctx, cfg)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketExists) {
		return nil, err
	}

	kv, err = js.KeyValue(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists but failed to open: %w", err)
	}

	return kv, nil
}
