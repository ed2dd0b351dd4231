package election

import (
	"fmt"
	"sync/atomic"

	"github.com/arloliu/sharedtrain/types"
)

// term is one tenure of the flag.
type term struct {
	holder  string
	vacated chan struct{}
}

// closedCh is returned by Vacated when no term is active.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}()

// Local is a process-local election flag built on an atomic pointer swap.
type Local struct {
	current atomic.Pointer[term]
	terms   atomic.Uint64
}

// Compile-time assertion that Local implements ElectionAgent.
var _ types.ElectionAgent = (*Local)(nil)

// NewLocal creates a free election flag.
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire takes the flag for holder if nobody holds it.
//
// Parameters:
//   - holder: Non-empty caller identity
//
// Returns:
//   - bool: true if holder now owns the flag
func (l *Local) TryAcquire(holder string) bool {
	if holder == "" {
		return false
	}

	t := &term{holder: holder, vacated: make(chan struct{})}
	if !l.current.CompareAndSwap(nil, t) {
		return false
	}
	l.terms.Add(1)

	return true
}

// Release ends the current term.
//
// Returns:
//   - error: types.ErrNotHolder when holder does not own the flag
func (l *Local) Release(holder string) error {
	t := l.current.Load()
	if t == nil || t.holder != holder {
		return fmt.Errorf("%w: %q", types.ErrNotHolder, holder)
	}
	if !l.current.CompareAndSwap(t, nil) {
		return fmt.Errorf("%w: %q", types.ErrNotHolder, holder)
	}
	close(t.vacated)

	return nil
}

// Vacated returns a channel closed when the current term ends. It is already
// closed when the flag is free.
func (l *Local) Vacated() <-chan struct{} {
	if t := l.current.Load(); t != nil {
		return t.vacated
	}

	return closedCh
}

// Holder returns the current holder, empty when the flag is free.
func (l *Local) Holder() string {
	if t := l.current.Load(); t != nil {
		return t.holder
	}

	return ""
}

// Terms returns the number of terms started so far.
func (l *Local) Terms() uint64 {
	return l.terms.Load()
}
