package sharedtrain

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/sharedtrain/exchange"
)

// Option configures a Coordinator with optional dependencies.
type Option func(*coordinatorOptions)

// TransportResolver maps the exchange configuration to a transport.
// Returning nil means no transport is available (ErrNoTransport).
type TransportResolver func(conn *nats.Conn, cfg ExchangeConfig) Transport

// coordinatorOptions holds optional Coordinator configuration.
type coordinatorOptions struct {
	electionAgent  ElectionAgent
	hooks          *Hooks
	metrics        MetricsCollector
	logger         Logger
	exchangeClient ExchangeClient
	trainerFactory TrainerFactory
	resolver       TransportResolver
	addressSource  AddressSource
	deviceCounter  DeviceCounter
}

// WithElectionAgent sets a custom election agent.
//
// The default is the in-process flag from internal/election.
//
// Parameters:
//   - agent: ElectionAgent implementation
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithElectionAgent(agent ElectionAgent) Option {
	return func(o *coordinatorOptions) {
		o.electionAgent = agent
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	hooks := &sharedtrain.Hooks{
//	    OnLeaderElected: func(ctx context.Context, taskID string) error {
//	        log.Printf("task %s drives this unit", taskID)
//	        return nil
//	    },
//	}
//	coord, err := sharedtrain.NewCoordinator(nc, sharedtrain.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *coordinatorOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "sharedtrain")
//	coord, err := sharedtrain.NewCoordinator(nc, sharedtrain.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *coordinatorOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithLogger(logger Logger) Option {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}

// WithExchangeClient injects the parameter-exchange client.
//
// Without this option the coordinator builds an exchange.Client on the NATS
// connection the first time a leader initializes the process.
//
// Parameters:
//   - client: ExchangeClient implementation
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithExchangeClient(client ExchangeClient) Option {
	return func(o *coordinatorOptions) {
		o.exchangeClient = client
	}
}

// WithTrainerFactory sets the factory used to build the multi-replica trainer.
//
// The default is parallel.NewFactory.
//
// Parameters:
//   - factory: TrainerFactory implementation
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithTrainerFactory(factory TrainerFactory) Option {
	return func(o *coordinatorOptions) {
		o.trainerFactory = factory
	}
}

// WithTransportResolver overrides how the exchange transport is resolved.
//
// The default is exchange.ResolveTransport.
//
// Parameters:
//   - resolver: Function mapping the exchange configuration to a transport
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithTransportResolver(resolver TransportResolver) Option {
	return func(o *coordinatorOptions) {
		o.resolver = resolver
	}
}

// WithAddressSource sets where the node's externally visible address comes from.
//
// The default reads the environment variable named by Exchange.AddressEnv and
// falls back to the host name.
//
// Parameters:
//   - src: AddressSource implementation, e.g. source.Static("10.0.0.7")
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithAddressSource(src AddressSource) Option {
	return func(o *coordinatorOptions) {
		o.addressSource = src
	}
}

// WithDeviceCounter sets how many training devices the node has.
//
// The device count decides the parallelism when WorkersPerNode is zero.
// The default reports zero (unknown), which resolves to 2 replicas.
//
// Parameters:
//   - counter: DeviceCounter implementation
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	coord, err := sharedtrain.NewCoordinator(nc,
//	    sharedtrain.WithDeviceCounter(sharedtrain.DeviceCountFunc(func() int { return 4 })),
//	)
func WithDeviceCounter(counter DeviceCounter) Option {
	return func(o *coordinatorOptions) {
		o.deviceCounter = counter
	}
}

// defaultResolver resolves transports through the exchange package.
func defaultResolver(conn *nats.Conn, cfg ExchangeConfig) Transport {
	return exchange.ResolveTransport(conn, cfg)
}

type taskIDKey struct{}

// WithTaskID returns a context that identifies the calling task.
//
// Attach generates a task ID when the context does not carry one, so this is
// only needed when a caller wants stable, readable task IDs in logs and hooks.
//
// Parameters:
//   - ctx: Parent context
//   - id: Non-empty task identity
//
// Returns:
//   - context.Context: Context carrying the task ID
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFromContext returns the task ID carried by ctx.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)

	return id, ok && id != ""
}
