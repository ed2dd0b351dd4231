// Package exchange implements the parameter-exchange client over NATS.
//
// A Client gives a training process its node identity, keeps a heartbeat
// alive, announces the node to its coordination point and moves encoded
// gradient updates between nodes. Two transports are available:
//
//   - routed: updates go to every coordination shard; each Shard forwards
//     them to the nodes it owns. A node is owned by the shard chosen on a
//     consistent hash ring over the shard names.
//   - broadcast: every node publishes to and listens on one shared subject.
//
// StartCoordinationPoints runs every shard of a configuration on one
// connection; the coordination-point binary is a thin wrapper around it.
//
// Subjects (with the default "sharedtrain" prefix):
//
//	sharedtrain.shard.<i>.updates   routed updates for shard i
//	sharedtrain.shard.<i>.intro     introductions owned by shard i (request/reply)
//	sharedtrain.node.<nodeID>       updates forwarded to one node
//	sharedtrain.broadcast           broadcast updates
//	sharedtrain.intro               broadcast introductions
//
// Example:
//
//	client, _ := exchange.NewClient(nc, exchange.DefaultConfig())
//	transport := exchange.ResolveTransport(nc, cfg)
//	if err := client.Initialize(ctx, transport, acc); err != nil {
//	    return err
//	}
//	err := client.SendIntroduction(ctx, "10.0.0.7", cfg.UnicastPort)
package exchange
