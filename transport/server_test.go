package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchbook/engine"
	"matchbook/wire"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	log := zap.NewNop()
	eng := engine.New(engine.Config{Instruments: []string{"AAPL"}}, log)
	eng.Start()
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, eng, log)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		srv.Stop()
		eng.Stop()
	})
	return srv, srv.Addr().String()
}

func TestRequestResponseOverSocket(t *testing.T) {
	_, addr := startServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteFrame(conn, 7, wire.PlaceOrder{
		Instrument: "AAPL", Side: wire.SideBuy, Price: 100, Qty: 5,
	}))
	corr, msg, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, uint32(7), corr)
	ack, ok := msg.(wire.Ack)
	require.True(t, ok)
	require.Equal(t, "NEW", ack.Status)
}

func TestServerRoleMessageIsProtocolError(t *testing.T) {
	_, addr := startServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// An Ack is something only the server sends.
	require.NoError(t, wire.WriteFrame(conn, 1, wire.Ack{OrderID: 1, Status: "NEW"}))
	_, msg, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	rej, ok := msg.(wire.Reject)
	require.True(t, ok)
	require.Equal(t, wire.CodeProtocol, rej.Code)
}

func TestStopClosesLiveSessions(t *testing.T) {
	srv, addr := startServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// Make sure the session is established before stopping.
	require.NoError(t, wire.WriteFrame(conn, 1, wire.BookSnapshotRequest{Instrument: "AAPL", Depth: 1}))
	_, _, err = wire.ReadFrame(conn)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return with a live session")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = wire.ReadFrame(conn)
	require.Error(t, err)
}
