package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("configuration errors share a category", func(t *testing.T) {
		for _, err := range []error{ErrInvalidConfig, ErrNoModel, ErrNoTransport, ErrNoDataSource, ErrNATSConnectionRequired, ErrNotReplicable} {
			require.True(t, IsConfigurationError(err), "%v", err)
			require.ErrorIs(t, err, ErrConfiguration)
		}
	})

	t.Run("runtime errors are not configuration errors", func(t *testing.T) {
		for _, err := range []error{ErrInterruptedWait, ErrWorkUnitAborted, ErrResourceExhausted, ErrHandshakeFailed} {
			require.False(t, IsConfigurationError(err), "%v", err)
		}
	})

	t.Run("wrapping keeps identity", func(t *testing.T) {
		wrapped := fmt.Errorf("leader: %w", ErrNoTransport)
		require.ErrorIs(t, wrapped, ErrNoTransport)
		require.ErrorIs(t, wrapped, ErrConfiguration)
		require.NotErrorIs(t, wrapped, ErrNoModel)
	})

	t.Run("configuration errors are distinct", func(t *testing.T) {
		all := []error{ErrInvalidConfig, ErrNoModel, ErrNoTransport, ErrNoDataSource}
		for i, a := range all {
			for j, b := range all {
				if i == j {
					continue
				}
				require.False(t, errors.Is(a, b), "%v vs %v", a, b)
			}
		}
	})

	t.Run("nil is not a configuration error", func(t *testing.T) {
		require.False(t, IsConfigurationError(nil))
	})
}
