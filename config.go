package sharedtrain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/sharedtrain/exchange"
	"github.com/arloliu/sharedtrain/types"
)

// MemoryConfig bounds the memory the gradient accumulator may hold.
//
// Byte sizes accept human strings in YAML, e.g. "64MiB" or "2GiB".
type MemoryConfig struct {
	// BufferSize is the largest encoded update accepted, in bytes.
	BufferSize ByteSize `yaml:"bufferSize"`

	// BufferCount is the number of updates that may wait for application.
	BufferCount int `yaml:"bufferCount"`

	// Limit caps BufferSize x BufferCount. Building the accumulator fails with
	// ErrResourceExhausted when the budget exceeds it.
	Limit ByteSize `yaml:"limit"`
}

// Config is the training configuration a Worker carries into Run.
//
// The configuration is read-only for the duration of a work unit: the leader
// takes a defaulted copy when it starts the unit. Fields used only during
// first-time initialization (transport, memory, workspace mode) take effect
// the first time a leader initializes the process.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// WorkersPerNode is the number of replicas trained in parallel.
	// Zero resolves from the device count, falling back to 2.
	WorkersPerNode int `yaml:"workersPerNode"`

	// WorkspaceMode is passed to the trainer ("none" or "enabled").
	WorkspaceMode WorkspaceMode `yaml:"workspaceMode"`

	// Threshold is the gradient encoding step. Components smaller than the
	// threshold stay in the local residual.
	Threshold float32 `yaml:"threshold"`

	// PrefetchSize is the number of batches buffered ahead of the replicas.
	PrefetchSize int `yaml:"prefetchSize"`

	// EpochReset shuts the trainer down after every work unit so the next
	// leader builds a fresh one.
	EpochReset bool `yaml:"epochReset"`

	// DebugLongerIterations stretches every training iteration by this long.
	// Useful to reproduce races between attaching tasks and the leader.
	DebugLongerIterations time.Duration `yaml:"debugLongerIterations"`

	// LeaderWarmup delays the leader before it touches shared state so
	// sibling tasks get a chance to attach to the same unit.
	// Zero disables the delay. Recommended: a few seconds in production.
	LeaderWarmup time.Duration `yaml:"leaderWarmup"`

	// Memory bounds the accumulator.
	Memory MemoryConfig `yaml:"memory"`

	// Exchange configures the parameter-exchange client.
	Exchange ExchangeConfig `yaml:"exchange"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		WorkersPerNode: 0, // resolved from devices at first initialization
		WorkspaceMode:  WorkspaceNone,
		Threshold:      1e-3,
		PrefetchSize:   2,
		Memory: MemoryConfig{
			BufferSize:  64 * types.MiB,
			BufferCount: 10,
			Limit:       2 * types.GiB,
		},
		Exchange: exchange.DefaultConfig(),
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.WorkspaceMode == "" {
		cfg.WorkspaceMode = defaults.WorkspaceMode
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaults.Threshold
	}
	if cfg.PrefetchSize == 0 {
		cfg.PrefetchSize = defaults.PrefetchSize
	}
	if cfg.Memory.BufferSize == 0 {
		cfg.Memory.BufferSize = defaults.Memory.BufferSize
	}
	if cfg.Memory.BufferCount == 0 {
		cfg.Memory.BufferCount = defaults.Memory.BufferCount
	}
	if cfg.Memory.Limit == 0 {
		cfg.Memory.Limit = defaults.Memory.Limit
	}
	// Note: zero WorkersPerNode, DebugLongerIterations and LeaderWarmup are
	// meaningful, so no default is applied to them.
	cfg.Exchange.SetDefaults()
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - WorkersPerNode >= 0
//   - WorkspaceMode is "none" or "enabled"
//   - Threshold > 0
//   - PrefetchSize >= 1
//   - DebugLongerIterations >= 0 and LeaderWarmup >= 0
//   - Memory.BufferSize, Memory.BufferCount and Memory.Limit > 0
//   - Exchange passes its own validation
//
// The memory budget itself is checked when the accumulator is built, which
// reports ErrResourceExhausted rather than ErrInvalidConfig.
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if cfg.WorkersPerNode < 0 {
		return fmt.Errorf("%w: WorkersPerNode must be >= 0, got %d", ErrInvalidConfig, cfg.WorkersPerNode)
	}

	if !cfg.WorkspaceMode.Valid() {
		return fmt.Errorf("%w: unknown WorkspaceMode %q", ErrInvalidConfig, cfg.WorkspaceMode)
	}

	if cfg.Threshold <= 0 {
		return fmt.Errorf("%w: Threshold must be > 0, got %v", ErrInvalidConfig, cfg.Threshold)
	}

	if cfg.PrefetchSize < 1 {
		return fmt.Errorf("%w: PrefetchSize must be >= 1, got %d", ErrInvalidConfig, cfg.PrefetchSize)
	}

	if cfg.DebugLongerIterations < 0 || cfg.LeaderWarmup < 0 {
		return fmt.Errorf(
			"%w: DebugLongerIterations (%v) and LeaderWarmup (%v) must not be negative",
			ErrInvalidConfig, cfg.DebugLongerIterations, cfg.LeaderWarmup,
		)
	}

	if cfg.Memory.BufferSize == 0 || cfg.Memory.BufferCount <= 0 || cfg.Memory.Limit == 0 {
		return fmt.Errorf(
			"%w: memory settings must be positive (bufferSize=%v, bufferCount=%d, limit=%v)",
			ErrInvalidConfig, cfg.Memory.BufferSize, cfg.Memory.BufferCount, cfg.Memory.Limit,
		)
	}

	if err := cfg.Exchange.Validate(); err != nil {
		return fmt.Errorf("exchange: %w", err)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() by the leader to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	budget := cfg.Memory.BufferSize * ByteSize(cfg.Memory.BufferCount) //nolint:gosec // validated positive
	if budget > cfg.Memory.Limit/2 && budget <= cfg.Memory.Limit {
		logger.Warn(
			"accumulator budget uses more than half of the memory limit",
			"budget", budget,
			"limit", cfg.Memory.Limit,
		)
	}

	if cfg.Threshold > 0.1 {
		logger.Warn(
			"encoding threshold is coarse, most gradient mass will stay in the residual",
			"threshold", cfg.Threshold,
			"recommended", "1e-3 or lower",
		)
	}

	if cfg.DebugLongerIterations > 0 {
		logger.Warn(
			"debug iteration stretch is enabled",
			"delay", cfg.DebugLongerIterations,
		)
	}

	if cfg.PrefetchSize > 64 {
		logger.Warn(
			"prefetch buffer is very large",
			"prefetch_size", cfg.PrefetchSize,
			"recommended", "2-8",
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Memory limits are small and the exchange uses fast heartbeat and claim
// timings. Use DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := sharedtrain.TestConfig()
//	cfg.WorkersPerNode = 1
//	res, err := coord.Run(ctx, &sharedtrain.Worker{Config: &cfg, Model: model})
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.Memory.BufferSize = 64 * types.KiB
	cfg.Memory.BufferCount = 16
	cfg.Memory.Limit = 16 * types.MiB
	cfg.Exchange = exchange.TestConfig()

	return cfg
}

// ParseConfig decodes a YAML document into a Config and applies defaults.
//
// Parameters:
//   - data: YAML document
//
// Returns:
//   - Config: Decoded, defaulted and validated configuration
//   - error: Decoding or validation error
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
//
// Example:
//
//	# sharedtrain.yaml
//	workersPerNode: 4
//	threshold: 0.001
//	memory:
//	  bufferSize: 64MiB
//	  limit: 2GiB
//	exchange:
//	  transport: routed
//	  shards: 3
//
// Parameters:
//   - path: Path of the YAML file
//
// Returns:
//   - Config: Decoded, defaulted and validated configuration
//   - error: I/O, decoding or validation error
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return ParseConfig(data)
}
