package hooks

import (
	"context"

	"github.com/arloliu/sharedtrain/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// It is the default when no hooks are provided, so callers never need nil checks.
type NopHooks struct{}

// Compile-time assertions that NopHooks provides every hook callback.
var (
	_ func(context.Context, string) error       = (*NopHooks)(nil).OnLeaderElected
	_ func(context.Context, types.Result) error = (*NopHooks)(nil).OnWorkUnitCompleted
	_ func(context.Context, error) error        = (*NopHooks)(nil).OnError
)

// NewNop creates hooks whose callbacks all return nil.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}

	return types.Hooks{
		OnLeaderElected:     h.OnLeaderElected,
		OnWorkUnitCompleted: h.OnWorkUnitCompleted,
		OnError:             h.OnError,
	}
}

// Fill returns a copy of h with every nil callback replaced by a no-op.
func Fill(h *types.Hooks) *types.Hooks {
	nop := NewNop()
	if h == nil {
		return &nop
	}

	out := *h
	if out.OnLeaderElected == nil {
		out.OnLeaderElected = nop.OnLeaderElected
	}
	if out.OnWorkUnitCompleted == nil {
		out.OnWorkUnitCompleted = nop.OnWorkUnitCompleted
	}
	if out.OnError == nil {
		out.OnError = nop.OnError
	}

	return &out
}

// OnLeaderElected is a no-op implementation.
func (h *NopHooks) OnLeaderElected(_ context.Context, _ string) error {
	return nil
}

// OnWorkUnitCompleted is a no-op implementation.
func (h *NopHooks) OnWorkUnitCompleted(_ context.Context, _ types.Result) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
