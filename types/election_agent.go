package types

// ElectionAgent holds the per-process election flag that picks the leader of a
// work unit.
//
// Exactly one holder can own the flag at a time. Losing callers do not spin on
// TryAcquire; they block on their own gate and use Vacated only to notice that
// a term ended without releasing them, for example because they attached after
// the previous leader sealed its unit.
//
// The coordinator uses the in-process agent from internal/election by default.
// A custom agent can be injected with WithElectionAgent, e.g. to trace terms.
type ElectionAgent interface {
	// TryAcquire atomically takes the flag for holder.
	//
	// Parameters:
	//   - holder: Identity of the caller (the task ID)
	//
	// Returns:
	//   - bool: true if the caller now holds the flag
	TryAcquire(holder string) bool

	// Release gives the flag up.
	//
	// Returns:
	//   - error: ErrNotHolder when holder does not own the flag
	Release(holder string) error

	// Vacated returns a channel closed when the current term ends.
	// When no term is active the returned channel is already closed.
	Vacated() <-chan struct{}

	// Holder returns the current holder, empty when the flag is free.
	Holder() string
}
