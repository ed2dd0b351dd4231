package sharedtrain

import (
	"github.com/arloliu/sharedtrain/exchange"
	"github.com/arloliu/sharedtrain/types"
)

// Re-export types from the internal types package.
//
// Type aliases keep the public API in the root package while internal
// packages depend only on types, which avoids an import cycle between the
// coordinator and the components it wires together.
type (
	Batch                  = types.Batch
	Result                 = types.Result
	WorkspaceMode          = types.WorkspaceMode
	TransportType          = types.TransportType
	TrainerConfig          = types.TrainerConfig
	EncodedGradientMessage = types.EncodedGradientMessage
	IntroductionMessage    = types.IntroductionMessage
	ByteSize               = types.ByteSize
)

// Re-export interfaces from the internal types package for convenience.
type (
	Iterator                 = types.Iterator
	IteratorFunc             = types.IteratorFunc
	Model                    = types.Model
	Replicator               = types.Replicator
	IterationListener        = types.IterationListener
	GradientAccumulator      = types.GradientAccumulator
	MultiConsumerAccumulator = types.MultiConsumerAccumulator
	Trainer                  = types.Trainer
	TrainerFactory           = types.TrainerFactory
	Transport                = types.Transport
	ExchangeClient           = types.ExchangeClient
	AddressSource            = types.AddressSource
	DeviceCounter            = types.DeviceCounter
	DeviceCountFunc          = types.DeviceCountFunc
	ElectionAgent            = types.ElectionAgent
	MetricsCollector         = types.MetricsCollector
	Logger                   = types.Logger
	Hooks                    = types.Hooks
)

// ExchangeConfig configures the parameter-exchange client.
type ExchangeConfig = exchange.Config

// Re-export enumerations.
const (
	WorkspaceNone    = types.WorkspaceNone
	WorkspaceEnabled = types.WorkspaceEnabled

	TransportRouted    = types.TransportRouted
	TransportBroadcast = types.TransportBroadcast
	TransportNone      = types.TransportNone
)
