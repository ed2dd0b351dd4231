package exchange

import (
	"fmt"
	"time"

	"github.com/arloliu/sharedtrain/types"
)

// KVBucketConfig names the JetStream KV buckets used by the exchange.
type KVBucketConfig struct {
	// NodeIDBucket holds stable node ID claims.
	NodeIDBucket string `yaml:"nodeIdBucket"`

	// HeartbeatBucket holds node heartbeats.
	HeartbeatBucket string `yaml:"heartbeatBucket"`

	// RegistryBucket holds the last introduction of every node.
	RegistryBucket string `yaml:"registryBucket"`
}

// Config configures the NATS parameter-exchange client.
//
// All duration fields accept Go duration strings like "30s" in YAML.
type Config struct {
	// Transport selects how updates travel: "routed", "broadcast" or "none".
	Transport types.TransportType `yaml:"transport"`

	// SubjectPrefix is the root of every exchange subject.
	SubjectPrefix string `yaml:"subjectPrefix"`

	// Shards is the number of coordination shards of the routed transport.
	Shards int `yaml:"shards"`

	// UnicastPort is announced in the introduction as this node's inbound port.
	UnicastPort int `yaml:"unicastPort"`

	// AddressEnv names the environment variable holding the public address of
	// this node. The host name is used when it is unset.
	AddressEnv string `yaml:"addressEnv"`

	// NodeID pins the node identity. When empty an ID is claimed from the
	// NodeIDPrefix-NodeIDMin..NodeIDMax pool.
	NodeID string `yaml:"nodeId"`

	// NodeIDPrefix is the prefix of claimed IDs ("node" produces "node-0", ...).
	NodeIDPrefix string `yaml:"nodeIdPrefix"`

	// NodeIDMin is the lowest claimable ID number (inclusive).
	NodeIDMin int `yaml:"nodeIdMin"`

	// NodeIDMax is the highest claimable ID number (inclusive).
	NodeIDMax int `yaml:"nodeIdMax"`

	// NodeIDTTL is the claim lease; it is renewed every NodeIDTTL/3.
	NodeIDTTL time.Duration `yaml:"nodeIdTtl"`

	// HeartbeatInterval is how often the node publishes liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// HeartbeatTTL is how long a heartbeat stays valid. Recommended: 3x interval.
	HeartbeatTTL time.Duration `yaml:"heartbeatTtl"`

	// OperationTimeout bounds KV operations and inbound update delivery.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// HandshakeTimeout bounds the introduction round trip.
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`

	// KVBuckets names the KV buckets.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Transport:         types.TransportRouted,
		SubjectPrefix:     "sharedtrain",
		Shards:            1,
		UnicastPort:       40123,
		AddressEnv:        "SHAREDTRAIN_PUBLIC_DNS",
		NodeIDPrefix:      "node",
		NodeIDMin:         0,
		NodeIDMax:         255,
		NodeIDTTL:         30 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		HeartbeatTTL:      6 * time.Second,
		OperationTimeout:  10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		KVBuckets: KVBucketConfig{
			NodeIDBucket:    "sharedtrain-nodeid",
			HeartbeatBucket: "sharedtrain-heartbeat",
			RegistryBucket:  "sharedtrain-registry",
		},
	}
}

// SetDefaults fills zero fields with DefaultConfig values.
func (c *Config) SetDefaults() {
	d := DefaultConfig()

	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = d.SubjectPrefix
	}
	if c.Shards == 0 {
		c.Shards = d.Shards
	}
	if c.UnicastPort == 0 {
		c.UnicastPort = d.UnicastPort
	}
	if c.AddressEnv == "" {
		c.AddressEnv = d.AddressEnv
	}
	if c.NodeIDPrefix == "" {
		c.NodeIDPrefix = d.NodeIDPrefix
	}
	if c.NodeIDMax == 0 {
		c.NodeIDMax = d.NodeIDMax
	}
	if c.NodeIDTTL == 0 {
		c.NodeIDTTL = d.NodeIDTTL
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTTL == 0 {
		c.HeartbeatTTL = d.HeartbeatTTL
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.KVBuckets.NodeIDBucket == "" {
		c.KVBuckets.NodeIDBucket = d.KVBuckets.NodeIDBucket
	}
	if c.KVBuckets.HeartbeatBucket == "" {
		c.KVBuckets.HeartbeatBucket = d.KVBuckets.HeartbeatBucket
	}
	if c.KVBuckets.RegistryBucket == "" {
		c.KVBuckets.RegistryBucket = d.KVBuckets.RegistryBucket
	}
}

// Validate checks the exchange constraints.
//
// Rules:
//   - Transport is routed, broadcast or none
//   - Shards >= 1 and UnicastPort in 1..65535
//   - NodeIDMin <= NodeIDMax
//   - HeartbeatTTL >= 2 * HeartbeatInterval (one missed beat is tolerated)
//   - NodeIDTTL >= HeartbeatTTL (the ID outlives the heartbeat)
func (c *Config) Validate() error {
	switch c.Transport {
	case types.TransportRouted, types.TransportBroadcast, types.TransportNone:
	default:
		return fmt.Errorf("%w: unknown transport %q", types.ErrInvalidConfig, c.Transport)
	}

	if c.Shards < 1 {
		return fmt.Errorf("%w: shards must be >= 1, got %d", types.ErrInvalidConfig, c.Shards)
	}
	if c.UnicastPort < 1 || c.UnicastPort > 65535 {
		return fmt.Errorf("%w: unicast port %d out of range", types.ErrInvalidConfig, c.UnicastPort)
	}
	if c.NodeIDMin < 0 || c.NodeIDMin > c.NodeIDMax {
		return fmt.Errorf("%w: node ID pool %d..%d is empty", types.ErrInvalidConfig, c.NodeIDMin, c.NodeIDMax)
	}
	if c.HeartbeatTTL < 2*c.HeartbeatInterval {
		return fmt.Errorf("%w: HeartbeatTTL (%v) must be >= 2*HeartbeatInterval (%v)",
			types.ErrInvalidConfig, c.HeartbeatTTL, c.HeartbeatInterval)
	}
	if c.NodeIDTTL < c.HeartbeatTTL {
		return fmt.Errorf("%w: NodeIDTTL (%v) must be >= HeartbeatTTL (%v)",
			types.ErrInvalidConfig, c.NodeIDTTL, c.HeartbeatTTL)
	}

	return nil
}

// TestConfig returns a configuration with short timings for tests.
func TestConfig() Config {
	cfg := DefaultConfig()
	cfg.NodeIDTTL = 3 * time.Second
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.HeartbeatTTL = 600 * time.Millisecond
	cfg.OperationTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second

	return cfg
}
