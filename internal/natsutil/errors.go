// Package natsutil classifies NATS errors for the exchange layer.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharedtrain/types"
)

// IsConnectivityError reports whether err comes from losing the NATS
// connection rather than from a protocol or application failure.
//
// Kept out of types/ so that package stays free of NATS imports.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsNoResponders reports whether a request found no subscriber, which for an
// introduction means the owning coordination point is not running.
func IsNoResponders(err error) bool {
	return errors.Is(err, nats.ErrNoResponders)
}
