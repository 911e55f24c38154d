package bus

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// StartTestServer runs an embedded JetStream server for the duration of t
// and returns a connection to it.
func StartTestServer(t testing.TB) *nats.Conn {
	t.Helper()

	server, err := natsserver.NewServer(&natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
		JetStream:      true,
		StoreDir:       t.TempDir(),
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		server.Shutdown()
		server.WaitForShutdown()
	})
	return nc
}
