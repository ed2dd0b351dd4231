// Package heartbeat publishes node liveness into a NATS KV bucket.
//
// Every node taking part in the parameter exchange writes a timestamp under
// {prefix}.{nodeID} at a fixed interval. The bucket TTL is expected to be
// about three intervals, so a node that stops publishing disappears from the
// bucket after three missed beats and coordination points can drop it.
//
// Example:
//
//	publisher := heartbeat.New(kv, "node-hb", 2*time.Second,
//	    heartbeat.WithLogger(logger),
//	    heartbeat.WithMetrics(metrics))
//	if err := publisher.Start(ctx, "node-3"); err != nil {
//	    return err
//	}
//	defer publisher.Stop()
package heartbeat
