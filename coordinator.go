package sharedtrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/sharedtrain/accumulator"
	"github.com/arloliu/sharedtrain/exchange"
	"github.com/arloliu/sharedtrain/internal/election"
	"github.com/arloliu/sharedtrain/internal/handoff"
	"github.com/arloliu/sharedtrain/internal/hooks"
	"github.com/arloliu/sharedtrain/internal/logging"
	"github.com/arloliu/sharedtrain/internal/metrics"
	"github.com/arloliu/sharedtrain/internal/multiplex"
	"github.com/arloliu/sharedtrain/parallel"
	"github.com/arloliu/sharedtrain/source"
	"github.com/arloliu/sharedtrain/types"
)

// registration is one task's participation in a work unit.
type registration struct {
	taskID  string
	source  Iterator
	handoff *handoff.Handoff
	drained atomic.Bool
	left    bool // the task stopped waiting; guarded by Coordinator.mu
}

func (r *registration) markDrained() {
	r.drained.Store(true)
}

// Coordinator lets the goroutines of one process train a single shared model
// on the union of their data.
//
// Every participating task attaches a data source and calls Run. Exactly one
// caller per work unit wins the election and becomes the leader: it lazily
// builds the trainer, the gradient accumulator and the exchange client (first
// unit only), trains over a feed that interleaves every attached source, then
// resets the shared state and releases the others. Followers block in Run
// until released and return an empty Result.
//
// Thread Safety:
//   - Attach, Run, BlockUntilFinished and the accessors are safe for concurrent use
//   - Leader-owned state (trainer, accumulator, exchange client) is only
//     touched by the current leader and by Close
//
// Lifecycle:
//   - Create with NewCoordinator()
//   - Each task: Attach, then Run (or BlockUntilFinished)
//   - Call Close() when the process stops training
//
// Example:
//
//	coord, err := sharedtrain.NewCoordinator(nc)
//	if err != nil {
//	    return err
//	}
//	defer coord.Close(context.Background())
//
//	ctx, err = coord.Attach(ctx, source.NewSlice(batches))
//	if err != nil {
//	    return err
//	}
//	res, err := coord.Run(ctx, &sharedtrain.Worker{Config: &cfg, Model: model})
type Coordinator struct {
	conn *nats.Conn

	// Optional dependencies
	election       ElectionAgent
	hooks          *Hooks
	metrics        MetricsCollector
	logger         Logger
	trainerFactory TrainerFactory
	resolver       TransportResolver
	addressSource  AddressSource
	deviceCounter  DeviceCounter

	tasks *xsync.Map[string, *registration]

	// Current work unit, guarded by mu.
	mu      sync.Mutex
	mux     *multiplex.Multiplexer[Batch]
	regs    []*registration
	pending []*registration

	// Leader-owned state, guarded by leadMu.
	leadMu     sync.Mutex
	exchange   ExchangeClient
	transport  Transport
	acc        *accumulator.Accumulator
	trainer    Trainer
	stretched  bool
	introduced bool

	parallelism atomic.Int32
	nodeID      atomic.Value // string
	closed      atomic.Bool
}

// NewCoordinator creates a Coordinator.
//
// Nothing is built until the first leader runs: the exchange client, the
// accumulator and the trainer are created lazily from the leader's Worker
// configuration.
//
// Parameters:
//   - conn: NATS connection for the parameter exchange; may be nil only when
//     WithExchangeClient and WithTransportResolver supply the exchange
//   - opts: Optional configuration (hooks, metrics, logger, election agent, ...)
//
// Returns:
//   - *Coordinator: Initialized coordinator
//   - error: ErrNATSConnectionRequired when conn is nil and no exchange client was given
func NewCoordinator(conn *nats.Conn, opts ...Option) (*Coordinator, error) {
	options := &coordinatorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if conn == nil && options.exchangeClient == nil {
		return nil, ErrNATSConnectionRequired
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := logging.OrNop(options.logger)

	electionAgent := options.electionAgent
	if electionAgent == nil {
		electionAgent = election.NewLocal()
	}

	trainerFactory := options.trainerFactory
	if trainerFactory == nil {
		trainerFactory = parallel.NewFactory(loggerInstance)
	}

	resolver := options.resolver
	if resolver == nil {
		resolver = defaultResolver
	}

	c := &Coordinator{
		conn:           conn,
		election:       electionAgent,
		hooks:          hooks.Fill(options.hooks),
		metrics:        metricsCollector,
		logger:         loggerInstance,
		trainerFactory: trainerFactory,
		resolver:       resolver,
		addressSource:  options.addressSource,
		deviceCounter:  options.deviceCounter,
		exchange:       options.exchangeClient,
		tasks:          xsync.NewMap[string, *registration](),
		mux:            multiplex.New[Batch](),
	}
	c.nodeID.Store("")

	return c, nil
}

// Attach registers src as the calling task's data for the next work unit.
//
// The returned context identifies the task and must be passed to Run or
// BlockUntilFinished. When ctx already carries a task ID (see WithTaskID) it is
// reused; otherwise a new one is generated. A task that attaches after the
// current unit finished draining its sources joins the following unit.
//
// Parameters:
//   - ctx: Parent context, optionally carrying a task ID
//   - src: Forward-only batch source, drained exactly once by some leader
//
// Returns:
//   - context.Context: ctx carrying the task ID
//   - error: ErrNoDataSource for a nil src, ErrAlreadyAttached when the task
//     is still waiting on a unit, ErrClosed after Close
func (c *Coordinator) Attach(ctx context.Context, src Iterator) (context.Context, error) {
	if src == nil {
		return ctx, fmt.Errorf("%w: nil source", ErrNoDataSource)
	}

	taskID, ok := TaskIDFromContext(ctx)
	if !ok {
		taskID = uuid.NewString()
		ctx = WithTaskID(ctx, taskID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ctx, ErrClosed
	}

	reg, exists := c.tasks.Load(taskID)
	if exists {
		if !reg.handoff.Released() {
			return ctx, fmt.Errorf("%w: task %s", ErrAlreadyAttached, taskID)
		}
		reg.handoff.Rearm()
		reg.source = src
		reg.drained.Store(false)
		reg.left = false
	} else {
		reg = &registration{taskID: taskID, source: src, handoff: handoff.New()}
	}

	err := c.mux.Add(src, reg.markDrained)
	switch {
	case errors.Is(err, multiplex.ErrSealed):
		c.pending = append(c.pending, reg)
		c.logger.Debug("current work unit sealed, attached to the next one", "task_id", taskID)
	case err != nil:
		return ctx, err
	default:
		c.regs = append(c.regs, reg)
		c.metrics.RecordAttachedSources(len(c.regs))
	}
	c.tasks.Store(taskID, reg)

	return ctx, nil
}

// Run takes part in the work unit the calling task attached to.
//
// The caller that wins the election trains the unit and returns a Result with
// Completed and Leader set. Every other caller blocks until the leader
// releases it and returns the empty Result. When the leader fails, followers
// return ErrWorkUnitAborted wrapping the cause.
//
// Parameters:
//   - ctx: Context returned by Attach; cancelling it interrupts a waiting follower
//   - w: Configuration and model; only the leader's Worker is used
//
// Returns:
//   - Result: Unit summary on the leader, empty on followers
//   - error: ErrNoDataSource, ErrInterruptedWait, ErrWorkUnitAborted,
//     configuration, resource or handshake errors on the leader
func (c *Coordinator) Run(ctx context.Context, w *Worker) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}

	taskID, ok := TaskIDFromContext(ctx)
	if !ok {
		return Result{}, fmt.Errorf("%w: context carries no task", ErrNoDataSource)
	}
	reg, ok := c.tasks.Load(taskID)
	if !ok {
		return Result{}, fmt.Errorf("%w: task %s", ErrNoDataSource, taskID)
	}

	waitStart := time.Now()
	for {
		if reg.handoff.Released() {
			return Result{}, c.finishFollower(taskID, reg, waitStart)
		}

		if c.election.TryAcquire(taskID) {
			c.metrics.RecordElection(true)
			// The previous leader may have released us right before giving up the flag.
			if reg.handoff.Released() {
				c.releaseElection(taskID)

				return Result{}, c.finishFollower(taskID, reg, waitStart)
			}

			return c.lead(ctx, taskID, w)
		}
		c.metrics.RecordElection(false)

		// A term that ends without releasing us means our source went to the
		// next unit; compete again.
		vacated := c.election.Vacated()
		select {
		case <-reg.handoff.Done():
		case <-vacated:
		case <-ctx.Done():
			c.metrics.RecordFollowerWait(time.Since(waitStart).Seconds(), "interrupted")
			c.logger.Warn("follower wait interrupted", "task_id", taskID, "error", ctx.Err())
			c.abandon(reg)

			return Result{}, fmt.Errorf("%w: %w", ErrInterruptedWait, ctx.Err())
		}
	}
}

// BlockUntilFinished waits until the unit the calling task attached to has
// been trained, without competing for leadership.
//
// Parameters:
//   - ctx: Context returned by Attach
//
// Returns:
//   - error: ErrNotAttached, ErrInterruptedWait, or the unit's abort error
func (c *Coordinator) BlockUntilFinished(ctx context.Context) error {
	taskID, ok := TaskIDFromContext(ctx)
	if !ok {
		return ErrNotAttached
	}
	reg, ok := c.tasks.Load(taskID)
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotAttached, taskID)
	}

	start := time.Now()
	if err := reg.handoff.Wait(ctx); errors.Is(err, ErrInterruptedWait) {
		c.metrics.RecordFollowerWait(time.Since(start).Seconds(), "interrupted")
		c.abandon(reg)

		return err
	}

	return c.finishFollower(taskID, reg, start)
}

// finishFollower records a released follower and forgets its registration.
func (c *Coordinator) finishFollower(taskID string, reg *registration, start time.Time) error {
	err := reg.handoff.Err()
	outcome := "released"
	if err != nil {
		outcome = "aborted"
	}
	c.metrics.RecordFollowerWait(time.Since(start).Seconds(), outcome)
	c.tasks.Delete(taskID)

	return err
}

// abandon records that the task of reg stopped waiting. Its source stays in
// the unit; the registration is forgotten once the unit released it.
func (c *Coordinator) abandon(reg *registration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg.left = true
	if reg.handoff.Released() {
		c.forgetLocked(reg)
	}
}

// forgetLocked drops reg from the task table unless the task attached again.
// The caller holds c.mu.
func (c *Coordinator) forgetLocked(reg *registration) {
	if cur, ok := c.tasks.Load(reg.taskID); ok && cur == reg {
		c.tasks.Delete(reg.taskID)
	}
}

// lead drives one work unit and tears it down.
func (c *Coordinator) lead(ctx context.Context, taskID string, w *Worker) (Result, error) {
	c.leadMu.Lock()
	defer c.leadMu.Unlock()
	defer c.tasks.Delete(taskID)

	c.logger.Info("elected leader for work unit", "task_id", taskID)
	c.fireLeaderElected(ctx, taskID)

	start := time.Now()
	cfg := w.config()

	var (
		res Result
		err error
	)
	if c.closed.Load() {
		err = ErrClosed
	} else {
		res, err = c.driveUnit(ctx, cfg, w.model())
	}
	res.Elapsed = time.Since(start)

	c.teardown(cfg, err)
	c.releaseElection(taskID)

	c.metrics.RecordWorkUnit(res.Elapsed.Seconds(), res.Batches, err == nil)
	if err != nil {
		c.logger.Error("work unit failed", "task_id", taskID, "error", err)
		c.fireError(ctx, err)

		return Result{}, err
	}

	res.Completed = true
	res.Leader = true
	c.logger.Info("work unit completed",
		"task_id", taskID,
		"batches", res.Batches,
		"sources", res.Sources,
		"parallelism", res.Parallelism,
		"elapsed", res.Elapsed,
	)
	c.fireWorkUnitCompleted(ctx, res)

	return res, nil
}

// driveUnit validates, initializes and trains over the current unit.
func (c *Coordinator) driveUnit(ctx context.Context, cfg Config, model Model) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	cfg.ValidateWithWarnings(c.logger)

	if model == nil {
		return Result{}, ErrNoModel
	}
	if c.mux.Len() == 0 {
		return Result{}, ErrNoDataSource
	}

	if cfg.LeaderWarmup > 0 {
		timer := time.NewTimer(cfg.LeaderWarmup)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return Result{}, ctx.Err()
		}
	}

	if err := c.initialize(ctx, cfg, model); err != nil {
		return Result{}, err
	}

	var err error
	var discarded int64
	if c.trainer != nil {
		err = c.trainer.Fit(ctx, c.mux)
		if dr, ok := c.trainer.(discardReporter); ok {
			discarded = dr.Discarded()
		}
	} else {
		err = model.Fit(ctx, c.mux)
	}
	if err != nil {
		return Result{}, fmt.Errorf("fit: %w", err)
	}

	stats := c.mux.Stats()
	if err := c.drainLeftovers(ctx, discarded); err != nil {
		return Result{}, err
	}

	return Result{
		Batches:     stats.Produced,
		Sources:     stats.Sources,
		Parallelism: int(c.parallelism.Load()),
	}, nil
}

// initialize builds the leader-owned components that do not exist yet.
//
// Order matters: the transport is resolved before anything is constructed so
// a process without a transport never builds an accumulator or a trainer.
func (c *Coordinator) initialize(ctx context.Context, cfg Config, model Model) error {
	if c.transport == nil {
		transport := c.resolver(c.conn, cfg.Exchange)
		if transport == nil {
			return fmt.Errorf("%w: transport %q", ErrNoTransport, cfg.Exchange.Transport)
		}
		c.transport = transport
	}

	if c.exchange == nil {
		client, err := exchange.NewClient(c.conn, cfg.Exchange,
			exchange.WithLogger(c.logger),
			exchange.WithMetrics(c.metrics),
		)
		if err != nil {
			return fmt.Errorf("create exchange client: %w", err)
		}
		c.exchange = client
	}

	if c.acc == nil {
		acc, err := accumulator.New(
			accumulator.Config{
				Threshold:   cfg.Threshold,
				BufferSize:  cfg.Memory.BufferSize,
				BufferCount: cfg.Memory.BufferCount,
				MemoryLimit: cfg.Memory.Limit,
			},
			types.MessageHandlerFunc(c.exchange.SendToAllCoordinationPoints),
			accumulator.WithLogger(c.logger),
			accumulator.WithMetrics(c.metrics),
		)
		if err != nil {
			return fmt.Errorf("create accumulator: %w", err)
		}
		c.acc = acc
	}

	if !c.exchange.IsInitialized() {
		if err := c.exchange.Initialize(ctx, c.transport, c.acc); err != nil {
			return fmt.Errorf("initialize exchange: %w", err)
		}
		c.nodeID.Store(c.exchange.NodeID())
	}

	if !c.introduced {
		if err := c.introduce(ctx, cfg); err != nil {
			return err
		}
		c.introduced = true
	}

	if c.trainer != nil {
		return nil
	}

	workers := c.resolveParallelism(cfg)
	if cfg.DebugLongerIterations > 0 && !c.stretched {
		model.AddListener(parallel.NewStretchListener(cfg.DebugLongerIterations))
		c.stretched = true
	}

	if workers > 1 {
		trainer, err := c.trainerFactory(TrainerConfig{
			Model:         model,
			Workers:       workers,
			WorkspaceMode: cfg.WorkspaceMode,
			Accumulator:   c.acc,
			PrefetchSize:  cfg.PrefetchSize,
		})
		if err != nil {
			return fmt.Errorf("create trainer: %w", err)
		}
		c.trainer = trainer
		c.logger.Info("trainer ready", "workers", workers, "workspace_mode", cfg.WorkspaceMode)
	} else {
		model.SetAccumulator(c.acc)
	}
	c.parallelism.Store(int32(workers)) //nolint:gosec // bounded by configuration

	return nil
}

// introduce announces this node to the exchange service.
func (c *Coordinator) introduce(ctx context.Context, cfg Config) error {
	addrSource := c.addressSource
	if addrSource == nil {
		addrSource = source.NewEnv(cfg.Exchange.AddressEnv)
	}

	address, err := addrSource.Address()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	err = c.exchange.SendIntroduction(ctx, address, cfg.Exchange.UnicastPort)
	switch {
	case err == nil, errors.Is(err, types.ErrAlreadyIntroduced):
		c.logger.Info("introduced to parameter exchange",
			"node_id", c.exchange.NodeID(),
			"address", address,
			"port", cfg.Exchange.UnicastPort,
		)

		return nil
	case errors.Is(err, ErrHandshakeFailed):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
}

// resolveParallelism picks the number of replicas: the configured value,
// else the device count, else 2.
func (c *Coordinator) resolveParallelism(cfg Config) int {
	devices := 0
	if c.deviceCounter != nil {
		devices = c.deviceCounter.DeviceCount()
	}

	switch {
	case cfg.WorkersPerNode > 0:
		if devices > 0 && cfg.WorkersPerNode > devices {
			c.logger.Warn("more workers configured than devices available",
				"workers", cfg.WorkersPerNode,
				"devices", devices,
			)
		}

		return cfg.WorkersPerNode
	case devices > 0:
		return devices
	default:
		return 2
	}
}

// discardReporter is implemented by trainers that may pull a batch from the
// feed that no replica trains, such as parallel.Trainer.
type discardReporter interface {
	Discarded() int64
}

// drainLeftovers consumes what a model left unread so every source is
// exhausted before the unit is swapped. discarded counts batches the trainer
// already pulled but never trained.
func (c *Coordinator) drainLeftovers(ctx context.Context, discarded int64) error {
	dropped := discarded
	for !c.mux.Sealed() {
		_, err := c.mux.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("drain leftovers: %w", err)
		}
		dropped++
	}

	if dropped > 0 {
		c.logger.Warn("model stopped before the feed ended, dropped leftover batches", "dropped", dropped)
	}

	return nil
}

// teardown swaps in a fresh work unit and opens every gate of the finished one.
//
// Gates open only after the unit was swapped and the accumulator reset, and
// the caller releases the election flag after teardown returns.
func (c *Coordinator) teardown(cfg Config, cause error) {
	if cfg.EpochReset && c.trainer != nil {
		c.trainer.Shutdown()
		c.trainer = nil
	}

	c.mu.Lock()
	if cause != nil {
		c.mux.Close()
	}
	if err := c.mux.Reset(); err != nil {
		// Reset only refuses a feed that is still mid-drain.
		c.logger.Error("failed to reset multiplexer", "error", err)
		c.mux.Close()
		_ = c.mux.Reset()
	}

	finished := c.regs
	c.regs = nil
	for _, reg := range c.pending {
		if err := c.mux.Add(reg.source, reg.markDrained); err != nil {
			c.logger.Error("failed to move registration to next unit", "task_id", reg.taskID, "error", err)
			finished = append(finished, reg)

			continue
		}
		c.regs = append(c.regs, reg)
	}
	c.pending = nil
	next := len(c.regs)
	c.mu.Unlock()

	c.metrics.RecordAttachedSources(next)

	if c.acc != nil {
		c.acc.Reset()
	}

	var releaseErr error
	if cause != nil {
		releaseErr = fmt.Errorf("%w: %w", ErrWorkUnitAborted, cause)
	}
	for _, reg := range finished {
		if !reg.drained.Load() && cause == nil {
			c.logger.Warn("releasing task whose source was not drained", "task_id", reg.taskID)
		}
		reg.handoff.Release(releaseErr)
	}

	// Tasks that stopped waiting never come back for their handoff.
	c.mu.Lock()
	for _, reg := range finished {
		if reg.left && reg.handoff.Released() {
			c.forgetLocked(reg)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("work unit torn down", "released", len(finished), "next_unit_sources", next)
}

func (c *Coordinator) releaseElection(taskID string) {
	if err := c.election.Release(taskID); err != nil {
		c.logError("failed to release election flag", "task_id", taskID, "error", err)
	}
}

// IsLeader reports whether the task carried by ctx currently leads a unit.
func (c *Coordinator) IsLeader(ctx context.Context) bool {
	taskID, ok := TaskIDFromContext(ctx)

	return ok && c.election.Holder() == taskID
}

// NodeID returns the node identity in the parameter exchange, empty until a
// leader has initialized the exchange client.
func (c *Coordinator) NodeID() string {
	id, _ := c.nodeID.Load().(string)

	return id
}

// Parallelism returns the number of replicas of the last unit, zero before
// the first leader initialized the trainer.
func (c *Coordinator) Parallelism() int {
	return int(c.parallelism.Load())
}

// Close shuts the trainer down, releases every waiting task with ErrClosed
// and closes the exchange client.
//
// Close waits for a running work unit to finish. It is idempotent.
//
// Parameters:
//   - ctx: Context bounding the exchange client shutdown
//
// Returns:
//   - error: Exchange client shutdown error
func (c *Coordinator) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.leadMu.Lock()
	defer c.leadMu.Unlock()

	if c.trainer != nil {
		c.trainer.Shutdown()
		c.trainer = nil
	}

	c.mu.Lock()
	waiting := slices.Concat(c.regs, c.pending)
	c.regs, c.pending = nil, nil
	c.mux.Close()
	c.mu.Unlock()

	for _, reg := range waiting {
		reg.handoff.Release(ErrClosed)
	}
	c.mu.Lock()
	for _, reg := range waiting {
		if reg.left {
			c.forgetLocked(reg)
		}
	}
	c.mu.Unlock()

	if c.exchange == nil {
		return nil
	}
	if err := c.exchange.Close(ctx); err != nil {
		return fmt.Errorf("close exchange client: %w", err)
	}
	c.logger.Info("coordinator closed", "released", len(waiting))

	return nil
}

// fireLeaderElected runs the OnLeaderElected hook in the background.
func (c *Coordinator) fireLeaderElected(ctx context.Context, taskID string) {
	hookCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.hooks.OnLeaderElected(hookCtx, taskID); err != nil {
			c.logError("leader elected hook error", "task_id", taskID, "error", err)
		}
	}()
}

// fireWorkUnitCompleted runs the OnWorkUnitCompleted hook in the background.
func (c *Coordinator) fireWorkUnitCompleted(ctx context.Context, res Result) {
	hookCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.hooks.OnWorkUnitCompleted(hookCtx, res); err != nil {
			c.logError("work unit completed hook error", "error", err)
		}
	}()
}

// fireError runs the OnError hook in the background.
func (c *Coordinator) fireError(ctx context.Context, cause error) {
	hookCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.hooks.OnError(hookCtx, cause); err != nil {
			c.logError("error hook error", "cause", cause, "error", err)
		}
	}()
}

func (c *Coordinator) logError(msg string, keysAndValues ...any) {
	// Logger is always non-nil (defaults to nopLogger)
	c.logger.Error(msg, keysAndValues...)
}
