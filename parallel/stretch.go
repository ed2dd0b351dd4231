package parallel

import (
	"context"
	"time"

	"github.com/arloliu/sharedtrain/types"
)

// StretchListener slows training down by sleeping after every iteration.
// It is a debugging aid for reproducing timing-dependent behavior.
type StretchListener struct {
	delay time.Duration
}

var _ types.IterationListener = (*StretchListener)(nil)

// NewStretchListener returns a listener sleeping delay per iteration.
func NewStretchListener(delay time.Duration) *StretchListener {
	return &StretchListener{delay: delay}
}

// IterationDone sleeps for the configured delay or until ctx is done.
func (s *StretchListener) IterationDone(ctx context.Context, _ int64) {
	if s.delay <= 0 {
		return
	}

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Delay returns the per-iteration delay.
func (s *StretchListener) Delay() time.Duration {
	return s.delay
}
