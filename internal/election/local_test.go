package election

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/arloliu/sharedtrain/types"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		l := NewLocal()
		require.Empty(t, l.Holder())

		require.True(t, l.TryAcquire("a"))
		require.Equal(t, "a", l.Holder())
		require.False(t, l.TryAcquire("b"))
		require.False(t, l.TryAcquire("a"), "flag is not re-entrant")

		require.NoError(t, l.Release("a"))
		require.Empty(t, l.Holder())
		require.True(t, l.TryAcquire("b"))
		require.Equal(t, uint64(2), l.Terms())
	})

	t.Run("only holder can release", func(t *testing.T) {
		l := NewLocal()
		require.ErrorIs(t, l.Release("a"), types.ErrNotHolder)

		require.True(t, l.TryAcquire("a"))
		require.ErrorIs(t, l.Release("b"), types.ErrNotHolder)
		require.Equal(t, "a", l.Holder())
	})

	t.Run("empty holder never wins", func(t *testing.T) {
		require.False(t, NewLocal().TryAcquire(""))
	})

	t.Run("vacated closes when term ends", func(t *testing.T) {
		l := NewLocal()
		select {
		case <-l.Vacated():
		default:
			t.Fatal("free flag must report vacated")
		}

		require.True(t, l.TryAcquire("a"))
		vacated := l.Vacated()
		select {
		case <-vacated:
			t.Fatal("held flag must not report vacated")
		default:
		}

		require.NoError(t, l.Release("a"))
		<-vacated

		require.True(t, l.TryAcquire("b"))
		select {
		case <-l.Vacated():
			t.Fatal("new term must get a fresh channel")
		default:
		}
	})

	t.Run("exactly one winner under contention", func(t *testing.T) {
		for round := range 50 {
			l := NewLocal()
			var wins atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if l.TryAcquire(fmt.Sprintf("task-%d-%d", round, i)) {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()
			require.Equal(t, int32(1), wins.Load())
		}
	})
}
