package peer

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (local, remote net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	local, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	remote, ok := <-accepted
	require.True(t, ok, "accept failed")

	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return local, remote
}

type testPeer struct {
	peer       *ActivePeer
	terminator chan *Writer
	done       chan struct{}
}

func newTestPeer(t *testing.T, conn net.Conn, connID string) *testPeer {
	t.Helper()
	addr, err := AddressOf(conn.RemoteAddr())
	require.NoError(t, err)

	terminator := make(chan *Writer)
	done := make(chan struct{})
	return &testPeer{
		peer: &ActivePeer{
			Address:     addr,
			ConnID:      connID,
			ConnectedAt: time.Now(),
			writer:      newWriter(conn, time.Second),
			terminator:  terminator,
			done:        done,
		},
		terminator: terminator,
		done:       done,
	}
}
