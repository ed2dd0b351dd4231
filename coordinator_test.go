package sharedtrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/sharedtrain/internal/election"
	"github.com/arloliu/sharedtrain/source"
	sttest "github.com/arloliu/sharedtrain/testing"
	"github.com/arloliu/sharedtrain/types"
)

// fakeExchange is an in-memory ExchangeClient.
type fakeExchange struct {
	mu          sync.Mutex
	initialized bool
	intros      int
	introErr    error
	sent        int
	closed      bool
	handler     types.UpdateHandler
}

func (f *fakeExchange) Initialize(_ context.Context, transport Transport, handler types.UpdateHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if transport == nil {
		return ErrNoTransport
	}
	f.initialized = true
	f.handler = handler

	return nil
}

func (f *fakeExchange) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.initialized
}

func (f *fakeExchange) SendIntroduction(context.Context, string, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.intros++

	return f.introErr
}

func (f *fakeExchange) SendToAllCoordinationPoints(context.Context, *EncodedGradientMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent++

	return nil
}

func (f *fakeExchange) NodeID() string {
	return "node-7"
}

func (f *fakeExchange) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeExchange) stats() (intros, sent int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.intros, f.sent, f.closed
}

func (f *fakeExchange) setIntroErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.introErr = err
}

type fakeTransport struct{}

func (fakeTransport) Kind() TransportType                                    { return TransportRouted }
func (fakeTransport) SendAll(context.Context, []byte) error                  { return nil }
func (fakeTransport) SendIntroduction(context.Context, string, []byte) error { return nil }
func (fakeTransport) Listen(string, func([]byte)) (func() error, error) {
	return func() error { return nil }, nil
}

func fakeResolver(*nats.Conn, ExchangeConfig) Transport {
	return fakeTransport{}
}

// countingAgent wraps the local election flag and tracks concurrent holders.
type countingAgent struct {
	*election.Local
	active  atomic.Int32
	maxSeen atomic.Int32
	terms   atomic.Int32
}

func (a *countingAgent) TryAcquire(holder string) bool {
	if !a.Local.TryAcquire(holder) {
		return false
	}
	n := a.active.Add(1)
	for {
		seen := a.maxSeen.Load()
		if n <= seen || a.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	a.terms.Add(1)

	return true
}

func (a *countingAgent) Release(holder string) error {
	a.active.Add(-1)

	return a.Local.Release(holder)
}

func newTestCoordinator(t *testing.T, ex *fakeExchange, opts ...Option) *Coordinator {
	t.Helper()

	all := append([]Option{
		WithExchangeClient(ex),
		WithTransportResolver(fakeResolver),
		WithAddressSource(source.Static("10.0.0.1")),
		WithLogger(sttest.NewTestLogger(t)),
	}, opts...)

	c, err := NewCoordinator(nil, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return c
}

func testWorker(model Model, mutate ...func(*Config)) *Worker {
	cfg := TestConfig()
	cfg.WorkersPerNode = 1
	for _, m := range mutate {
		m(&cfg)
	}

	return &Worker{Config: &cfg, Model: model}
}

func attach(t *testing.T, c *Coordinator, taskID string, batches []Batch) context.Context {
	t.Helper()

	ctx, err := c.Attach(WithTaskID(t.Context(), taskID), source.NewSlice(batches))
	require.NoError(t, err)

	return ctx
}

type runResult struct {
	task string
	res  Result
	err  error
}

func runAsync(ctx context.Context, c *Coordinator, task string, w *Worker, out chan<- runResult) {
	go func() {
		res, err := c.Run(ctx, w)
		out <- runResult{task: task, res: res, err: err}
	}()
}

// pausingModel stops after draining its first feed until resume is closed.
type pausingModel struct {
	*sttest.RecordingModel
	drained chan struct{}
	resume  chan struct{}
	once    sync.Once
}

func newPausingModel() *pausingModel {
	return &pausingModel{
		RecordingModel: sttest.NewRecordingModel(),
		drained:        make(chan struct{}),
		resume:         make(chan struct{}),
	}
}

func (m *pausingModel) Fit(ctx context.Context, it Iterator) error {
	if err := m.RecordingModel.Fit(ctx, it); err != nil {
		return err
	}
	m.once.Do(func() {
		close(m.drained)
		<-m.resume
	})

	return nil
}

func TestNewCoordinator(t *testing.T) {
	t.Run("requires a connection or an exchange client", func(t *testing.T) {
		_, err := NewCoordinator(nil)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
		require.True(t, types.IsConfigurationError(err))
	})

	t.Run("fills optional dependencies", func(t *testing.T) {
		c, err := NewCoordinator(nil, WithExchangeClient(&fakeExchange{}))
		require.NoError(t, err)

		require.NotNil(t, c.hooks)
		require.NotNil(t, c.hooks.OnError)
		require.NotNil(t, c.metrics)
		require.NotNil(t, c.logger)
		require.NotNil(t, c.election)
		require.NotNil(t, c.trainerFactory)
		require.Empty(t, c.NodeID())
		require.Zero(t, c.Parallelism())

		require.NotPanics(t, func() {
			c.logError("test error", "key", "value")
		})
	})
}

func TestCoordinator_SingleTask(t *testing.T) {
	ex := &fakeExchange{}
	c := newTestCoordinator(t, ex)
	model := sttest.NewRecordingModel()

	ctx := attach(t, c, "solo", sttest.MakeBatches(5, 1))
	res, err := c.Run(ctx, testWorker(model))
	require.NoError(t, err)

	require.True(t, res.Completed)
	require.True(t, res.Leader)
	require.EqualValues(t, 5, res.Batches)
	require.Equal(t, 1, res.Sources)
	require.Equal(t, 1, res.Parallelism)
	require.Equal(t, 5, model.BatchCount())

	intros, _, _ := ex.stats()
	require.Equal(t, 1, intros)
	require.Equal(t, "node-7", c.NodeID())
	require.False(t, c.IsLeader(ctx))
}

func TestCoordinator_RunWithoutAttach(t *testing.T) {
	ex := &fakeExchange{}
	c := newTestCoordinator(t, ex)

	_, err := c.Run(t.Context(), testWorker(sttest.NewRecordingModel()))
	require.ErrorIs(t, err, ErrNoDataSource)

	_, err = c.Run(WithTaskID(t.Context(), "ghost"), testWorker(sttest.NewRecordingModel()))
	require.ErrorIs(t, err, ErrNoDataSource)
	require.False(t, ex.IsInitialized())
}

func TestCoordinator_AttachValidation(t *testing.T) {
	c := newTestCoordinator(t, &fakeExchange{})

	_, err := c.Attach(t.Context(), nil)
	require.ErrorIs(t, err, ErrNoDataSource)

	ctx := attach(t, c, "twice", sttest.MakeBatches(1, 1))
	_, err = c.Attach(ctx, source.NewSlice(sttest.MakeBatches(1, 2)))
	require.ErrorIs(t, err, ErrAlreadyAttached)

	generated, err := c.Attach(t.Context(), source.NewSlice(sttest.MakeBatches(1, 3)))
	require.NoError(t, err)
	id, ok := TaskIDFromContext(generated)
	require.True(t, ok)
	require.NotEmpty(t, id)
}

func TestCoordinator_NoTransport(t *testing.T) {
	ex := &fakeExchange{}
	c := newTestCoordinator(t, ex,
		WithTransportResolver(func(*nats.Conn, ExchangeConfig) Transport { return nil }),
	)
	model := sttest.NewRecordingModel()

	ctx := attach(t, c, "leader", sttest.MakeBatches(3, 1))
	_, err := c.Run(ctx, testWorker(model, func(cfg *Config) { cfg.Exchange.Transport = TransportNone }))
	require.ErrorIs(t, err, ErrNoTransport)
	require.True(t, types.IsConfigurationError(err))

	// nothing was constructed
	require.Nil(t, c.acc)
	require.Nil(t, c.trainer)
	require.False(t, ex.IsInitialized())
	intros, _, _ := ex.stats()
	require.Zero(t, intros)
	require.Zero(t, model.FitCalls())
}

func TestCoordinator_NoModel(t *testing.T) {
	c := newTestCoordinator(t, &fakeExchange{})

	leaderCtx := attach(t, c, "leader", sttest.MakeBatches(2, 1))
	followerCtx := attach(t, c, "follower", sttest.MakeBatches(2, 2))

	done := make(chan error, 1)
	go func() { done <- c.BlockUntilFinished(followerCtx) }()

	_, err := c.Run(leaderCtx, &Worker{Config: &Config{}})
	require.ErrorIs(t, err, ErrNoModel)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrWorkUnitAborted)
		require.ErrorIs(t, err, ErrNoModel)
	case <-time.After(5 * time.Second):
		t.Fatal("follower was not released")
	}
}

func TestCoordinator_ConfigChecksSkipWarmup(t *testing.T) {
	c := newTestCoordinator(t, &fakeExchange{})
	ctx := attach(t, c, "leader", sttest.MakeBatches(1, 1))

	cfg := TestConfig()
	cfg.LeaderWarmup = time.Minute
	start := time.Now()
	_, err := c.Run(ctx, &Worker{Config: &cfg})
	require.ErrorIs(t, err, ErrNoModel)
	require.Less(t, time.Since(start), 5*time.Second, "rejected before the warm-up")
}

func TestCoordinator_ThreeTasksShareOneUnit(t *testing.T) {
	ex := &fakeExchange{}
	c := newTestCoordinator(t, ex)
	model := sttest.NewRecordingModel()
	w := testWorker(model)

	results := make(chan runResult, 3)
	ctxs := make([]context.Context, 3)
	for i := range ctxs {
		ctxs[i] = attach(t, c, fmt.Sprintf("task-%d", i), sttest.MakeBatches(4, float32(i)))
	}
	for i, ctx := range ctxs {
		runAsync(ctx, c, fmt.Sprintf("task-%d", i), w, results)
	}

	leaders := 0
	for range ctxs {
		r := <-results
		require.NoError(t, r.err, r.task)
		if r.res.Completed {
			leaders++
			require.EqualValues(t, 12, r.res.Batches)
			require.Equal(t, 3, r.res.Sources)
		} else {
			require.True(t, r.res.IsEmpty(), "followers get the empty result")
		}
	}
	require.Equal(t, 1, leaders)

	perSource := map[float32]int{}
	for _, b := range model.Batches() {
		perSource[b.Labels[0][0]]++
	}
	require.Equal(t, map[float32]int{0: 4, 1: 4, 2: 4}, perSource)
	require.Equal(t, 1, model.FitCalls())
}

func TestCoordinator_ExactlyOneLeaderAtATime(t *testing.T) {
	agent := &countingAgent{Local: election.NewLocal()}
	c := newTestCoordinator(t, &fakeExchange{}, WithElectionAgent(agent))
	model := sttest.NewRecordingModel()
	w := testWorker(model)

	const tasks = 8
	var wg sync.WaitGroup
	var completed atomic.Int32
	errs := make(chan error, tasks)
	for i := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, err := c.Attach(WithTaskID(context.Background(), fmt.Sprintf("t%d", i)),
				source.NewSlice(sttest.MakeBatches(3, float32(i))))
			if err != nil {
				errs <- err
				return
			}
			res, err := c.Run(ctx, w)
			if err != nil {
				errs <- err
				return
			}
			if res.Completed {
				completed.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), agent.maxSeen.Load(), "never two leaders at once")
	require.GreaterOrEqual(t, completed.Load(), int32(1))
	require.GreaterOrEqual(t, agent.terms.Load(), completed.Load())
	require.Equal(t, tasks*3, model.BatchCount(), "every source drained exactly once")
}

func TestCoordinator_FollowersReleasedAfterLeader(t *testing.T) {
	gate := make(chan struct{})
	model := sttest.NewRecordingModel(sttest.WithBatchHook(func(ctx context.Context, _ Batch) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	c := newTestCoordinator(t, &fakeExchange{})
	w := testWorker(model)

	leaderCtx := attach(t, c, "leader", sttest.MakeBatches(3, 1))
	followerCtx := attach(t, c, "follower", sttest.MakeBatches(3, 2))

	results := make(chan runResult, 2)
	runAsync(leaderCtx, c, "leader", w, results)
	require.Eventually(t, func() bool { return c.IsLeader(leaderCtx) }, 5*time.Second, 5*time.Millisecond)

	seenAtRelease := make(chan int, 1)
	go func() {
		res, err := c.Run(followerCtx, w)
		seenAtRelease <- model.BatchCount()
		results <- runResult{task: "follower", res: res, err: err}
	}()

	require.Never(t, func() bool { return len(seenAtRelease) > 0 }, 150*time.Millisecond, 10*time.Millisecond)
	close(gate)

	require.Equal(t, 6, <-seenAtRelease, "follower returns only after its data was trained")
	for range 2 {
		r := <-results
		require.NoError(t, r.err)
		require.Equal(t, r.task == "leader", r.res.Completed)
	}
}

func TestCoordinator_ResetBetweenUnits(t *testing.T) {
	ex := &fakeExchange{}
	c := newTestCoordinator(t, ex)
	model := sttest.NewRecordingModel(sttest.WithGradientSize(4))
	w := testWorker(model)

	ctx := attach(t, c, "task", sttest.MakeBatches(3, 1))
	res, err := c.Run(ctx, w)
	require.NoError(t, err)
	require.EqualValues(t, 3, res.Batches)
	require.Same(t, c.acc, model.Accumulator(), "parallelism 1 binds the accumulator to the model")
	require.False(t, c.acc.HasAnything(), "accumulator is reset after the unit")
	require.Empty(t, c.acc.Residual())
	_, sent, _ := ex.stats()
	require.Equal(t, 3, sent)

	// the same task starts a fresh unit that only holds its new source
	ctx, err = c.Attach(ctx, source.NewSlice(sttest.MakeBatches(2, 9)))
	require.NoError(t, err)
	res, err = c.Run(ctx, w)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Batches)
	require.Equal(t, 1, res.Sources)
	require.Equal(t, 5, model.BatchCount())
	require.Equal(t, 2, model.FitCalls())

	intros, _, _ := ex.stats()
	require.Equal(t, 1, intros, "introduction is sent once per process")
}

func TestCoordinator_Parallelism(t *testing.T) {
	t.Run("device count", func(t *testing.T) {
		c := newTestCoordinator(t, &fakeExchange{},
			WithDeviceCounter(DeviceCountFunc(func() int { return 3 })),
		)
		model := sttest.NewRecordingModel()

		ctx := attach(t, c, "task", sttest.MakeBatches(9, 1))
		res, err := c.Run(ctx, testWorker(model, func(cfg *Config) {
			cfg.WorkersPerNode = 0
			cfg.WorkspaceMode = WorkspaceEnabled
		}))
		require.NoError(t, err)
		require.Equal(t, 3, res.Parallelism)
		require.Equal(t, 3, c.Parallelism())
		require.Equal(t, 3, model.Replicas())
		require.Equal(t, 9, model.BatchCount())
		require.NotNil(t, c.trainer)
	})

	t.Run("falls back to two", func(t *testing.T) {
		c := newTestCoordinator(t, &fakeExchange{})
		model := sttest.NewRecordingModel()

		ctx := attach(t, c, "task", sttest.MakeBatches(4, 1))
		res, err := c.Run(ctx, testWorker(model, func(cfg *Config) { cfg.WorkersPerNode = 0 }))
		require.NoError(t, err)
		require.Equal(t, 2, res.Parallelism)
		require.Equal(t, 2, model.Replicas())
	})

	t.Run("single device resolves to one", func(t *testing.T) {
		c := newTestCoordinator(t, &fakeExchange{},
			WithDeviceCounter(DeviceCountFunc(func() int { return 1 })),
		)
		model := sttest.NewRecordingModel()

		ctx := attach(t, c, "task", sttest.MakeBatches(3, 1))
		res, err := c.Run(ctx, testWorker(model, func(cfg *Config) { cfg.WorkersPerNode = 0 }))
		require.NoError(t, err)
		require.Equal(t, 1, res.Parallelism)
		require.Equal(t, 1, c.Parallelism())
		require.Nil(t, c.trainer)
		require.Zero(t, model.Replicas())
		require.Equal(t, c.acc, model.Accumulator())
		require.Equal(t, 3, model.BatchCount())
	})

	t.Run("epoch reset rebuilds the trainer", func(t *testing.T) {
		c := newTestCoordinator(t, &fakeExchange{})
		model := sttest.NewRecordingModel()
		w := testWorker(model, func(cfg *Config) {
			cfg.WorkersPerNode = 2
			cfg.EpochReset = true
		})

		ctx := attach(t, c, "task", sttest.MakeBatches(2, 1))
		_, err := c.Run(ctx, w)
		require.NoError(t, err)
		require.Nil(t, c.trainer)

		ctx, err = c.Attach(ctx, source.NewSlice(sttest.MakeBatches(2, 2)))
		require.NoError(t, err)
		_, err = c.Run(ctx, w)
		require.NoError(t, err)
		require.Equal(t, 4, model.Replicas(), "two trainers of two replicas")
	})
}

func TestCoordinator_FollowerInterrupted(t *testing.T) {
	gate := make(chan struct{})
	model := sttest.NewRecordingModel(sttest.WithBatchHook(func(ctx context.Context, _ Batch) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	c := newTestCoordinator(t, &fakeExchange{})
	w := testWorker(model)

	leaderCtx := attach(t, c, "leader", sttest.MakeBatches(2, 1))
	followerCtx := attach(t, c, "follower", sttest.MakeBatches(2, 2))

	results := make(chan runResult, 1)
	runAsync(leaderCtx, c, "leader", w, results)
	require.Eventually(t, func() bool { return c.IsLeader(leaderCtx) }, 5*time.Second, 5*time.Millisecond)

	waitCtx, cancel := context.WithCancel(followerCtx)
	followerErr := make(chan error, 1)
	go func() {
		_, err := c.Run(waitCtx, w)
		followerErr <- err
	}()
	cancel()

	err := <-followerErr
	require.ErrorIs(t, err, ErrInterruptedWait)
	require.ErrorIs(t, err, context.Canceled)
	_, ok := c.tasks.Load("follower")
	require.True(t, ok, "kept while its source is still in the unit")

	close(gate)
	r := <-results
	require.NoError(t, r.err)
	require.EqualValues(t, 4, r.res.Batches, "interrupted follower's data is still trained")

	require.Eventually(t, func() bool {
		_, ok := c.tasks.Load("follower")
		return !ok
	}, 5*time.Second, 5*time.Millisecond, "registration dropped after release")
	require.Zero(t, c.tasks.Size())

	// The task can take part in a later unit under the same ID.
	again := attach(t, c, "follower", sttest.MakeBatches(1, 3))
	res, err := c.Run(again, w)
	require.NoError(t, err)
	require.True(t, res.Leader)
}

func TestCoordinator_InterruptedAfterRelease(t *testing.T) {
	c := newTestCoordinator(t, &fakeExchange{})
	w := testWorker(sttest.NewRecordingModel())

	leaderCtx := attach(t, c, "leader", sttest.MakeBatches(1, 1))
	waiterCtx := attach(t, c, "waiter", sttest.MakeBatches(1, 2))
	_, err := c.Run(leaderCtx, w)
	require.NoError(t, err)

	// The waiter never came back to collect its release.
	reg, ok := c.tasks.Load("waiter")
	require.True(t, ok)
	require.True(t, reg.handoff.Released())

	c.abandon(reg)
	_, ok = c.tasks.Load("waiter")
	require.False(t, ok)

	waiterCtx, err = c.Attach(waiterCtx, source.NewSlice(sttest.MakeBatches(1, 3)))
	require.NoError(t, err)
	_, err = c.Run(waiterCtx, w)
	require.NoError(t, err)
	require.Zero(t, c.tasks.Size())
}

func TestCoordinator_LeaderFailureAbortsUnit(t *testing.T) {
	boom := errors.New("boom")
	var fail atomic.Bool
	fail.Store(true)
	model := sttest.NewRecordingModel(sttest.WithBatchHook(func(context.Context, Batch) error {
		if fail.Load() {
			return boom
		}

		return nil
	}))
	hookErr := make(chan error, 1)
	c := newTestCoordinator(t, &fakeExchange{}, WithHooks(&Hooks{
		OnError: func(_ context.Context, err error) error {
			hookErr <- err
			return nil
		},
	}))
	w := testWorker(model)

	leaderCtx := attach(t, c, "leader", sttest.MakeBatches(2, 1))
	followerCtx := attach(t, c, "follower", sttest.MakeBatches(2, 2))

	followerDone := make(chan error, 1)
	go func() { followerDone <- c.BlockUntilFinished(followerCtx) }()

	_, err := c.Run(leaderCtx, w)
	require.ErrorIs(t, err, boom)

	select {
	case err := <-followerDone:
		require.ErrorIs(t, err, ErrWorkUnitAborted)
		require.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("follower was not released")
	}
	require.ErrorIs(t, <-hookErr, boom)

	// the flag was released and the next unit starts clean
	fail.Store(false)
	ctx := attach(t, c, "next", sttest.MakeBatches(2, 3))
	res, err := c.Run(ctx, w)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Batches)
	require.Equal(t, 1, res.Sources)
}

func TestCoordinator_HandshakeFailure(t *testing.T) {
	ex := &fakeExchange{}
	ex.setIntroErr(errors.New("no route"))
	c := newTestCoordinator(t, ex)
	model := sttest.NewRecordingModel()
	w := testWorker(model)

	ctx := attach(t, c, "task", sttest.MakeBatches(1, 1))
	_, err := c.Run(ctx, w)
	require.ErrorIs(t, err, ErrHandshakeFailed)
	require.Zero(t, model.FitCalls())

	ex.setIntroErr(nil)
	ctx, err = c.Attach(ctx, source.NewSlice(sttest.MakeBatches(1, 2)))
	require.NoError(t, err)
	_, err = c.Run(ctx, w)
	require.NoError(t, err)

	ctx, err = c.Attach(ctx, source.NewSlice(sttest.MakeBatches(1, 3)))
	require.NoError(t, err)
	_, err = c.Run(ctx, w)
	require.NoError(t, err)

	intros, _, _ := ex.stats()
	require.Equal(t, 2, intros, "retried once after the failure, then never again")
}

func TestCoordinator_LateAttachJoinsNextUnit(t *testing.T) {
	model := newPausingModel()
	c := newTestCoordinator(t, &fakeExchange{})
	w := testWorker(model)

	leaderCtx := attach(t, c, "early", sttest.MakeBatches(3, 1))
	results := make(chan runResult, 2)
	runAsync(leaderCtx, c, "early", w, results)

	<-model.drained
	lateCtx := attach(t, c, "late", sttest.MakeBatches(2, 2))
	runAsync(lateCtx, c, "late", w, results)

	require.Never(t, func() bool { return len(results) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	close(model.resume)

	got := map[string]Result{}
	for range 2 {
		r := <-results
		require.NoError(t, r.err, r.task)
		got[r.task] = r.res
	}
	require.True(t, got["early"].Completed)
	require.EqualValues(t, 3, got["early"].Batches)
	require.True(t, got["late"].Completed, "late task leads the following unit")
	require.EqualValues(t, 2, got["late"].Batches)
	require.Equal(t, 5, model.BatchCount())
}

func TestCoordinator_BlockUntilFinished(t *testing.T) {
	c := newTestCoordinator(t, &fakeExchange{})
	model := sttest.NewRecordingModel()

	require.ErrorIs(t, c.BlockUntilFinished(t.Context()), ErrNotAttached)
	require.ErrorIs(t, c.BlockUntilFinished(WithTaskID(t.Context(), "nobody")), ErrNotAttached)

	passive := attach(t, c, "passive", sttest.MakeBatches(2, 1))
	done := make(chan error, 1)
	go func() { done <- c.BlockUntilFinished(passive) }()

	active := attach(t, c, "active", sttest.MakeBatches(2, 2))
	res, err := c.Run(active, testWorker(model))
	require.NoError(t, err)
	require.Equal(t, 2, res.Sources)
	require.NoError(t, <-done)

	interrupted, cancel := context.WithCancel(attach(t, c, "impatient", sttest.MakeBatches(1, 3)))
	cancel()
	require.ErrorIs(t, c.BlockUntilFinished(interrupted), ErrInterruptedWait)
}

func TestCoordinator_Hooks(t *testing.T) {
	var elected atomic.Value
	completed := make(chan Result, 1)
	c := newTestCoordinator(t, &fakeExchange{}, WithHooks(&Hooks{
		OnLeaderElected: func(_ context.Context, taskID string) error {
			elected.Store(taskID)
			return errors.New("hook errors are only logged")
		},
		OnWorkUnitCompleted: func(_ context.Context, res Result) error {
			completed <- res
			return nil
		},
	}))

	ctx := attach(t, c, "hooked", sttest.MakeBatches(2, 1))
	_, err := c.Run(ctx, testWorker(sttest.NewRecordingModel()))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return elected.Load() == "hooked" }, 2*time.Second, 5*time.Millisecond)
	res := <-completed
	require.True(t, res.Completed)
	require.EqualValues(t, 2, res.Batches)
}

func TestCoordinator_DebugStretch(t *testing.T) {
	c := newTestCoordinator(t, &fakeExchange{})
	model := sttest.NewRecordingModel()

	ctx := attach(t, c, "slow", sttest.MakeBatches(3, 1))
	res, err := c.Run(ctx, testWorker(model, func(cfg *Config) {
		cfg.DebugLongerIterations = 20 * time.Millisecond
	}))
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Elapsed, 60*time.Millisecond)
}

func TestCoordinator_Close(t *testing.T) {
	ex := &fakeExchange{}
	c := newTestCoordinator(t, ex)

	ctx := attach(t, c, "waiting", sttest.MakeBatches(2, 1))
	done := make(chan error, 1)
	go func() { done <- c.BlockUntilFinished(ctx) }()

	require.NoError(t, c.Close(t.Context()))
	require.ErrorIs(t, <-done, ErrClosed)
	require.NoError(t, c.Close(t.Context()), "close is idempotent")

	_, _, closed := ex.stats()
	require.True(t, closed)

	_, err := c.Attach(t.Context(), source.NewSlice(sttest.MakeBatches(1, 1)))
	require.ErrorIs(t, err, ErrClosed)
	_, err = c.Run(ctx, testWorker(sttest.NewRecordingModel()))
	require.ErrorIs(t, err, ErrClosed)
}
