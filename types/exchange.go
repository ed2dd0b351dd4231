package types

import (
	"context"
	"time"
)

// TransportType names a parameter-exchange transport.
type TransportType string

const (
	// TransportRouted sends updates to every coordination shard and introductions
	// to the shard owning the node.
	TransportRouted TransportType = "routed"
	// TransportBroadcast fans every message out on one shared subject.
	TransportBroadcast TransportType = "broadcast"
	// TransportNone disables the exchange; it never resolves to a transport.
	TransportNone TransportType = "none"
)

// Transport moves raw exchange payloads between nodes.
type Transport interface {
	// Kind reports the transport type.
	Kind() TransportType

	// SendAll delivers payload to every coordination point.
	SendAll(ctx context.Context, payload []byte) error

	// SendIntroduction delivers the introduction payload of nodeID to its
	// coordination point and waits for acknowledgement where the transport has one.
	SendIntroduction(ctx context.Context, nodeID string, payload []byte) error

	// Listen starts delivering inbound update payloads for nodeID.
	//
	// Returns:
	//   - func() error: stops delivery
	//   - error: subscription failure
	Listen(nodeID string, deliver func(payload []byte)) (func() error, error)
}

// IntroductionMessage announces a node to the parameter-exchange service.
type IntroductionMessage struct {
	NodeID    string        `json:"node_id"`
	Address   string        `json:"address"`
	Port      int           `json:"port"`
	Transport TransportType `json:"transport"`
	SessionID string        `json:"session_id"`
	SentAt    time.Time     `json:"sent_at"`
}

// ExchangeClient is the process's participation in the parameter-exchange service.
type ExchangeClient interface {
	// Initialize binds the transport and the inbound update handler. Idempotent.
	Initialize(ctx context.Context, transport Transport, handler UpdateHandler) error

	// IsInitialized reports whether Initialize has completed.
	IsInitialized() bool

	// SendIntroduction announces this node's address and port. Once per process.
	SendIntroduction(ctx context.Context, address string, port int) error

	// SendToAllCoordinationPoints publishes an encoded update to every coordination point.
	SendToAllCoordinationPoints(ctx context.Context, msg *EncodedGradientMessage) error

	// NodeID returns the node identity, empty before Initialize.
	NodeID() string

	// Close stops participation and releases the node identity.
	Close(ctx context.Context) error
}

// AddressSource supplies the externally visible address of this node.
type AddressSource interface {
	Address() (string, error)
}

// DeviceCounter reports the number of training devices available locally.
// Zero means unknown.
type DeviceCounter interface {
	DeviceCount() int
}

// DeviceCountFunc adapts a function to the DeviceCounter interface.
type DeviceCountFunc func() int

// DeviceCount calls f().
func (f DeviceCountFunc) DeviceCount() int {
	return f()
}
