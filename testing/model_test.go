package testing

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/sharedtrain/types"
)

type feed struct {
	batches []types.Batch
}

func (f *feed) Next(context.Context) (types.Batch, error) {
	if len(f.batches) == 0 {
		return types.Batch{}, io.EOF
	}
	b := f.batches[0]
	f.batches = f.batches[1:]

	return b, nil
}

type countingListener struct {
	last int64
}

func (l *countingListener) IterationDone(_ context.Context, iteration int64) {
	l.last = iteration
}

func TestRecordingModel_Fit(t *testing.T) {
	m := NewRecordingModel()
	l := &countingListener{}
	m.AddListener(l)

	require.NoError(t, m.Fit(t.Context(), &feed{batches: MakeBatches(4, 1)}))
	require.Equal(t, 4, m.BatchCount())
	require.Equal(t, 1, m.FitCalls())
	require.Equal(t, int64(4), l.last)
	require.InDelta(t, float32(1), m.Batches()[3].Features[0][0], 0)
}

func TestRecordingModel_ReplicasShareRecording(t *testing.T) {
	m := NewRecordingModel()
	replica, err := m.Replicate()
	require.NoError(t, err)

	require.NoError(t, replica.Fit(t.Context(), &feed{batches: MakeBatches(2, 3)}))
	require.Equal(t, 2, m.BatchCount())
	require.Equal(t, 1, m.Replicas())
}

func TestRecordingModel_HookError(t *testing.T) {
	boom := errors.New("boom")
	m := NewRecordingModel(WithBatchHook(func(context.Context, types.Batch) error {
		return boom
	}))

	require.ErrorIs(t, m.Fit(t.Context(), &feed{batches: MakeBatches(1, 0)}), boom)
	require.Zero(t, m.BatchCount())
}
