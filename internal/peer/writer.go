package peer

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"p2pmsg/internal/protocol"
)

// owner records who may write through a Writer.
type owner int32

const (
	ownerHandler owner = iota
	ownerRegistry
	ownerNone // after shutdown
)

func (o owner) String() string {
	switch o {
	case ownerHandler:
		return "handler"
	case ownerRegistry:
		return "registry"
	default:
		return "none"
	}
}

var ErrNotOwner = errors.New("writer used by non-owner")

// Writer is the write half of one connection.
// Exactly one party owns it at a time: the connection handler before
// registration and while closing, the registry in between.
type Writer struct {
	conn         net.Conn
	frames       *protocol.FrameWriter
	writeTimeout time.Duration
	owner        atomic.Int32
	closeOnce    sync.Once
	closeErr     error
	writes       atomic.Int64
}

func newWriter(conn net.Conn, writeTimeout time.Duration) *Writer {
	w := &Writer{
		conn:         conn,
		frames:       protocol.NewFrameWriter(conn),
		writeTimeout: writeTimeout,
	}
	w.owner.Store(int32(ownerHandler))
	return w
}

// handoff moves ownership from one party to another.
func (w *Writer) handoff(from, to owner) error {
	if !w.owner.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("handoff %s->%s while owned by %s: %w", from, to, owner(w.owner.Load()), ErrNotOwner)
	}
	return nil
}

// write sends one frame on behalf of by.
func (w *Writer) write(by owner, m protocol.Message) error {
	if cur := owner(w.owner.Load()); cur != by {
		return fmt.Errorf("%s write while owned by %s: %w", by, cur, ErrNotOwner)
	}
	if w.writeTimeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	if err := w.frames.WriteMessage(m); err != nil {
		return err
	}
	w.writes.Add(1)
	return nil
}

// shutdown closes both directions of the socket, once.
// TCP sockets get a FIN before the close so the peer sees an orderly end of stream.
func (w *Writer) shutdown() error {
	w.closeOnce.Do(func() {
		w.owner.Store(int32(ownerNone))
		if tc, ok := w.conn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// Writes returns the number of frames written so far.
func (w *Writer) Writes() int64 { return w.writes.Load() }
