// Package types provides the shared interfaces and value types of sharedtrain.
//
// Keeping these definitions in a leaf package lets the internal packages, the
// accumulator and the exchange client depend on them without importing the
// root sharedtrain package, which re-exports the most common ones as aliases.
//
// Key types:
//   - Batch, Iterator: the data feed a model trains on
//   - Model, Trainer: the training collaborators driven by the coordinator leader
//   - GradientAccumulator, EncodedGradientMessage: the gradient handoff to the network
//   - Transport, ExchangeClient: the parameter-exchange boundary
//   - Logger, MetricsCollector, Hooks: observability
package types
