package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// EmbeddedOption customizes the embedded NATS server.
type EmbeddedOption func(*server.Options)

// WithoutJetStream starts the server with JetStream disabled, for testing
// how components fail when their buckets cannot be created.
func WithoutJetStream() EmbeddedOption {
	return func(o *server.Options) {
		o.JetStream = false
		o.StoreDir = ""
	}
}

// WithServerName sets the server name reported to clients.
func WithServerName(name string) EmbeddedOption {
	return func(o *server.Options) {
		o.ServerName = name
	}
}

// StartEmbeddedNATS starts an in-process NATS server with JetStream and
// returns it with a connected client.
//
// The server listens on a random port and stores JetStream data under
// t.TempDir(). Server and connection are shut down when the test ends.
//
// Parameters:
//   - t: Test owning the server
//   - opts: Optional server customizations
//
// Returns:
//   - *server.Server: The running server, for Connect or ClientURL
//   - *nats.Conn: Connected client
//
// Example:
//
//	func TestExchange(t *testing.T) {
//	    ns, nc := sttest.StartEmbeddedNATS(t)
//	    other := sttest.Connect(t, ns, "process-b")
//	    // ...
//	}
func StartEmbeddedNATS(t testing.TB, opts ...EmbeddedOption) (*server.Server, *nats.Conn) {
	t.Helper()

	sopts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	}
	for _, opt := range opts {
		opt(sopts)
	}

	ns, err := server.NewServer(sopts)
	require.NoError(t, err, "create embedded NATS server")

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready within timeout")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns, Connect(t, ns, "sharedtrain-test")
}

// Connect opens another client connection to ns, closed when the test ends.
// Tests simulating several processes give each one its own connection.
func Connect(t testing.TB, ns *server.Server, name string) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Name(name),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	require.NoError(t, err, "connect to embedded NATS server")
	t.Cleanup(nc.Close)

	return nc
}

// CreateJetStreamKV creates an in-memory KV bucket keeping one revision per key.
//
// Example:
//
//	kv := sttest.CreateJetStreamKV(t, nc, "unit-heartbeats")
//	_, err := kv.Put(t.Context(), "node-hb.node-1", []byte("now"))
func CreateJetStreamKV(t testing.TB, nc *nats.Conn, bucket string) jetstream.KeyValue {
	t.Helper()

	js, err := jetstream.New(nc)
	require.NoError(t, err, "create JetStream context")

	kv, err := js.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:   bucket,
		History:  1,
		Storage:  jetstream.MemoryStorage,
		Replicas: 1,
	})
	require.NoError(t, err, "create KV bucket %s", bucket)

	return kv
}
