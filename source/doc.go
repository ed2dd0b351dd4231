// Package source provides built-in data sources and node address sources.
//
// Data sources implement types.Iterator and are attached to a coordinator
// by each worker goroutine:
//
//   - Slice: Fixed list of batches
//   - Channel: Batches received from a channel until it is closed
//
// Address sources implement types.AddressSource:
//
//   - Env: Reads an environment variable, falling back to the host name
//   - Static: Fixed address
//
// Custom sources can be implemented by satisfying the types interfaces.
package source
