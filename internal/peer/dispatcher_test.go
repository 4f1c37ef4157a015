package peer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pmsg/internal/protocol"
)

type dispatcherFixture struct {
	registry *Registry
	queue    chan Inbound
	seen     chan Inbound
	peer     *testPeer
	remote   net.Conn
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		registry: NewRegistry(testLogger()),
		queue:    make(chan Inbound, 8),
		seen:     make(chan Inbound, 8),
	}
	local, remote := tcpPair(t)
	f.remote = remote
	f.peer = newTestPeer(t, local, "conn-1")
	require.NoError(t, f.registry.Add(f.peer.peer))

	d := NewDispatcher(f.registry, f.queue, testLogger())
	d.Observe(func(in Inbound) { f.seen <- in })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return f
}

func (f *dispatcherFixture) waitSeen(t *testing.T) Inbound {
	t.Helper()
	select {
	case in := <-f.seen:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("message was not dispatched")
		return Inbound{}
	}
}

func TestDispatcher_PingRepliesPong(t *testing.T) {
	f := newDispatcherFixture(t)

	f.queue <- Inbound{Message: protocol.Ping{}, From: f.peer.peer.Address}
	f.waitSeen(t)

	f.remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.NewFrameReader(f.remote, 0).ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.Message(protocol.Pong{}), msg)
}

func TestDispatcher_PingFromUnknownPeer(t *testing.T) {
	f := newDispatcherFixture(t)
	stranger, _ := tcpPair(t)
	addr, err := AddressOf(stranger.RemoteAddr())
	require.NoError(t, err)

	f.queue <- Inbound{Message: protocol.Ping{}, From: addr}
	in := f.waitSeen(t)
	assert.Equal(t, addr, in.From)
	assert.Equal(t, 1, f.registry.Len(), "registered peer is untouched")
}

func TestDispatcher_HelloAndPongWriteNothing(t *testing.T) {
	f := newDispatcherFixture(t)

	f.queue <- Inbound{Message: protocol.Hello{Text: "again"}, From: f.peer.peer.Address}
	f.queue <- Inbound{Message: protocol.Pong{}, From: f.peer.peer.Address}
	f.waitSeen(t)
	f.waitSeen(t)

	assert.Zero(t, f.peer.peer.writer.Writes())
	assert.Equal(t, 1, f.registry.Len())

	f.remote.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := f.remote.Read(make([]byte, 1))
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestDispatcher_TerminateClosesPeer(t *testing.T) {
	f := newDispatcherFixture(t)

	handedBack := make(chan *Writer, 1)
	go func() { handedBack <- <-f.peer.terminator }()

	f.queue <- Inbound{Message: protocol.Terminate{}, From: f.peer.peer.Address}
	f.waitSeen(t)

	select {
	case w := <-handedBack:
		assert.Same(t, f.peer.peer.writer, w)
	case <-time.After(2 * time.Second):
		t.Fatal("writer was not handed back")
	}
	assert.Equal(t, 0, f.registry.Len())

	err := f.registry.SendTo(f.peer.peer.Address, protocol.Ping{})
	assert.ErrorIs(t, err, ErrConnectionNotAvailable)
}

func TestDispatcher_StopsWhenQueueClosed(t *testing.T) {
	queue := make(chan Inbound)
	d := NewDispatcher(NewRegistry(testLogger()), queue, testLogger())

	stopped := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(stopped)
	}()
	close(queue)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestWriter_ShutdownOnce(t *testing.T) {
	local, remote := tcpPair(t)
	w := newWriter(local, time.Second)

	require.NoError(t, w.write(ownerHandler, protocol.Terminate{}))
	require.NoError(t, w.shutdown())
	assert.NoError(t, w.shutdown(), "second shutdown returns the first result")

	assert.ErrorIs(t, w.write(ownerHandler, protocol.Ping{}), ErrNotOwner)

	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(remote)
	require.NoError(t, err)
	assert.Equal(t, "\"Terminate\"\n", string(data), "the final frame is the last thing on the wire")
}

func TestWriter_Handoff(t *testing.T) {
	local, _ := tcpPair(t)
	w := newWriter(local, 0)

	assert.ErrorIs(t, w.handoff(ownerRegistry, ownerHandler), ErrNotOwner)
	require.NoError(t, w.handoff(ownerHandler, ownerRegistry))
	assert.ErrorIs(t, w.write(ownerHandler, protocol.Ping{}), ErrNotOwner)
	assert.NoError(t, w.write(ownerRegistry, protocol.Ping{}))
}
