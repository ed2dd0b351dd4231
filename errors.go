package sharedtrain

import "github.com/arloliu/sharedtrain/types"

// Sentinel errors returned by the Coordinator.
//
// They are re-exported from the types package so callers only need to import
// the root package to check them with errors.Is.
var (
	// ErrConfiguration is the category shared by every configuration failure.
	ErrConfiguration = types.ErrConfiguration

	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrNoModel is returned when the leader's worker carries no model.
	ErrNoModel = types.ErrNoModel

	// ErrNoTransport is returned when the exchange transport resolves to none.
	ErrNoTransport = types.ErrNoTransport

	// ErrNoDataSource is returned when Run is called by a task without an attached source.
	ErrNoDataSource = types.ErrNoDataSource

	// ErrNATSConnectionRequired is returned when NATS connection is nil and no
	// exchange client was injected.
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired

	// ErrNotReplicable is returned when parallelism > 1 is requested for a model
	// that cannot be replicated.
	ErrNotReplicable = types.ErrNotReplicable

	// ErrInterruptedWait is returned when a follower's wait is interrupted.
	ErrInterruptedWait = types.ErrInterruptedWait

	// ErrWorkUnitAborted is returned to followers when the leader failed the unit.
	ErrWorkUnitAborted = types.ErrWorkUnitAborted

	// ErrNotAttached is returned when a task waits without having attached a source.
	ErrNotAttached = types.ErrNotAttached

	// ErrAlreadyAttached is returned when a task attaches twice to the same unit.
	ErrAlreadyAttached = types.ErrAlreadyAttached

	// ErrClosed is returned by operations on a closed coordinator.
	ErrClosed = types.ErrClosed

	// ErrResourceExhausted is returned when the accumulator memory budget is exceeded.
	ErrResourceExhausted = types.ErrResourceExhausted

	// ErrHandshakeFailed is returned when the introduction to the exchange service fails.
	ErrHandshakeFailed = types.ErrHandshakeFailed

	// ErrConnectivity indicates a NATS connectivity issue.
	ErrConnectivity = types.ErrConnectivity
)
