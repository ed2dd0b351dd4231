package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for sharedtrain.
//
// Callers check them with errors.Is. Components wrap lower-level failures with
// fmt.Errorf("context: %w", err) so the sentinel stays reachable.

// Configuration errors are fatal for the work unit and never retried.
var (
	// ErrConfiguration is the category shared by every configuration failure.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = fmt.Errorf("%w: invalid configuration", ErrConfiguration)

	// ErrNoModel is returned when the leader cannot resolve a model from its worker.
	ErrNoModel = fmt.Errorf("%w: no model supplied", ErrConfiguration)

	// ErrNoTransport is returned when the configured transport type resolves to none.
	ErrNoTransport = fmt.Errorf("%w: no transport resolved", ErrConfiguration)

	// ErrNoDataSource is returned when Run is called without an attached data source.
	ErrNoDataSource = fmt.Errorf("%w: no data source attached", ErrConfiguration)

	// ErrNATSConnectionRequired is returned when a NATS connection is needed but nil.
	ErrNATSConnectionRequired = fmt.Errorf("%w: NATS connection is required", ErrConfiguration)

	// ErrNotReplicable is returned when a multi-replica trainer is requested for a
	// model that cannot produce replicas.
	ErrNotReplicable = fmt.Errorf("%w: model does not support replication", ErrConfiguration)
)

// Coordinator errors.
var (
	// ErrInterruptedWait is returned when a blocked follower's wait is interrupted.
	ErrInterruptedWait = errors.New("interrupted while waiting for work unit")

	// ErrWorkUnitAborted is returned to followers when the leader failed the unit.
	ErrWorkUnitAborted = errors.New("work unit aborted by leader")

	// ErrNotAttached is returned when a task waits without having attached a source.
	ErrNotAttached = errors.New("task has not attached a data source")

	// ErrAlreadyAttached is returned when a task attaches twice to the same unit.
	ErrAlreadyAttached = errors.New("task already attached to the current work unit")

	// ErrClosed is returned by operations on a closed coordinator or client.
	ErrClosed = errors.New("closed")

	// ErrNotHolder is returned when a non-holder tries to release the election flag.
	ErrNotHolder = errors.New("election flag not held by caller")
)

// Accumulator errors.
var (
	// ErrResourceExhausted is returned when the accumulator memory budget is exceeded.
	ErrResourceExhausted = errors.New("accumulator memory budget exceeded")

	// ErrShapeMismatch is returned when a gradient does not match the accumulator shape.
	ErrShapeMismatch = errors.New("gradient shape mismatch")

	// ErrChecksumMismatch is returned when an encoded message fails verification.
	ErrChecksumMismatch = errors.New("encoded message checksum mismatch")
)

// Exchange errors.
var (
	// ErrHandshakeFailed is returned when the introduction to the exchange service fails.
	ErrHandshakeFailed = errors.New("parameter exchange handshake failed")

	// ErrNotInitialized is returned when the exchange client is used before Initialize.
	ErrNotInitialized = errors.New("exchange client not initialized")

	// ErrAlreadyIntroduced is returned on a second introduction from the same process.
	ErrAlreadyIntroduced = errors.New("introduction already sent")

	// ErrConnectivity indicates a NATS connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrIDClaimFailed is returned when the node ID cannot be claimed.
	ErrIDClaimFailed = errors.New("failed to claim stable node ID")
)

// IsConfigurationError reports whether err belongs to the configuration category.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
